package bvh

import (
	"fmt"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

// InstanceSource places a built geometry into a scene.
type InstanceSource struct {
	// The geometry blob contents. Only the header is accessed.
	Geometry []byte

	// Location of the geometry blob inside the device heap.
	GeometryOffset uint64

	// Object to world transform.
	Transform types.Mat3x4
}

// Transform the corners of a bbox and return their world-space bounds.
func transformBBox(m types.Mat3x4, bbox [2]types.Vec3) [2]types.Vec3 {
	out := emptyBBox()
	for corner := 0; corner < 8; corner++ {
		p := types.Vec3{bbox[corner&1][0], bbox[(corner>>1)&1][1], bbox[(corner>>2)&1][2]}
		p = m.TransformPoint(p)
		out[0] = types.MinVec3(out[0], p)
		out[1] = types.MaxVec3(out[1], p)
	}
	return out
}

// BuildScene builds a scene blob over the given instances. Instance ids are
// assigned in list order.
func BuildScene(instances []InstanceSource, flags backend.BuildFlags, scratch, result []byte) error {
	count := uint64(len(instances))
	info := ScenePreBuildInfo(count)
	if uint64(len(scratch)) < info.BuildScratchSize {
		return fmt.Errorf("bvh: scratch buffer holds %d bytes; need %d: %w", len(scratch), info.BuildScratchSize, backend.ErrInvalidParameter)
	}

	blob, err := create(result, KindScene, flags, count, 0)
	if err != nil {
		return err
	}
	if count == 0 {
		bbox := emptyBBox()
		blob.Header.Min, blob.Header.Max = bbox[0], bbox[1]
		return nil
	}

	staged := make([]Instance, count)
	refs := backend.View[primRef](scratch[:count*primRefSize])
	workList := make([]BoundedVolume, count)
	for i := range instances {
		geom, err := OpenHeader(instances[i].Geometry)
		if err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
		if geom.Kind != KindGeometry {
			return fmt.Errorf("bvh: instance %d does not reference a geometry: %w", i, backend.ErrInvalidParameter)
		}

		inverse, ok := instances[i].Transform.Inverse()
		if !ok {
			return fmt.Errorf("bvh: instance %d has a singular transform: %w", i, backend.ErrInvalidParameter)
		}

		staged[i] = Instance{
			Transform:      instances[i].Transform,
			Inverse:        inverse,
			GeometryOffset: instances[i].GeometryOffset,
			InstanceID:     uint32(i),
		}
		bbox := transformBBox(instances[i].Transform, [2]types.Vec3{geom.Min, geom.Max})
		refs[i] = primRef{Min: bbox[0], Max: bbox[1], Index: uint32(i)}
		workList[i] = &refs[i]
	}

	var next int32
	nodes := Build(workList, maxLeafItems, flags&backend.BuildFlagPreferFastBuild != 0,
		func(leaf *Node, items []BoundedVolume) {
			leaf.SetPrimitives(next, int32(len(items)))
			for _, item := range items {
				blob.Instances[next] = staged[item.(*primRef).Index]
				next++
			}
		},
		SurfaceAreaHeuristic,
	)

	copy(blob.Nodes, nodes)
	blob.Header.NodeCount = uint32(len(nodes))
	blob.Header.Min, blob.Header.Max = nodes[0].Min, nodes[0].Max
	return nil
}
