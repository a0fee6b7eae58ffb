package bvh

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

// Leafs hold at most this many primitives unless the builder runs out of
// useful splits.
const maxLeafItems = 4

// MeshSource describes an indexed triangle mesh in host memory.
type MeshSource struct {
	Vertices      []byte
	VertexStride  uint32
	VertexCount   uint32
	Indices       []byte
	IndexType     backend.IndexType
	TriangleCount uint32
}

// Validate the mesh buffers against the declared counts.
func (m *MeshSource) validate() error {
	if m.TriangleCount == 0 || m.VertexCount == 0 {
		return fmt.Errorf("bvh: empty mesh: %w", backend.ErrInvalidParameter)
	}
	if m.VertexStride < 12 {
		return fmt.Errorf("bvh: vertex stride %d is smaller than a float3: %w", m.VertexStride, backend.ErrInvalidParameter)
	}
	if need := uint64(m.VertexCount-1)*uint64(m.VertexStride) + 12; uint64(len(m.Vertices)) < need {
		return fmt.Errorf("bvh: vertex buffer holds %d bytes; need %d: %w", len(m.Vertices), need, backend.ErrInvalidParameter)
	}
	if need := uint64(m.TriangleCount) * 3 * uint64(m.IndexType.Size()); uint64(len(m.Indices)) < need {
		return fmt.Errorf("bvh: index buffer holds %d bytes; need %d: %w", len(m.Indices), need, backend.ErrInvalidParameter)
	}
	return nil
}

func (m *MeshSource) index(i uint32) uint32 {
	if m.IndexType == backend.IndexTypeUint16 {
		return uint32(binary.LittleEndian.Uint16(m.Indices[i*2:]))
	}
	return binary.LittleEndian.Uint32(m.Indices[i*4:])
}

func (m *MeshSource) vertex(i uint32) (types.Vec3, error) {
	if i >= m.VertexCount {
		return types.Vec3{}, fmt.Errorf("bvh: vertex index %d out of range [0, %d): %w", i, m.VertexCount, backend.ErrInvalidParameter)
	}
	off := uint64(i) * uint64(m.VertexStride)
	return types.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(m.Vertices[off:])),
		math.Float32frombits(binary.LittleEndian.Uint32(m.Vertices[off+4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(m.Vertices[off+8:])),
	}, nil
}

// Fetch the three vertices of a mesh triangle.
func (m *MeshSource) triangle(tri uint32) (v0, v1, v2 types.Vec3, err error) {
	if v0, err = m.vertex(m.index(3 * tri)); err != nil {
		return
	}
	if v1, err = m.vertex(m.index(3*tri + 1)); err != nil {
		return
	}
	v2, err = m.vertex(m.index(3*tri + 2))
	return
}

// A primitive reference stored in the build scratch area.
type primRef struct {
	Min   types.Vec3
	Index uint32
	Max   types.Vec3
	_     uint32
}

func (r *primRef) BBox() [2]types.Vec3 {
	return [2]types.Vec3{r.Min, r.Max}
}

func (r *primRef) Center() types.Vec3 {
	return r.Min.Add(r.Max).Mul(0.5)
}

// Count the triangles of a mesh list.
func TriangleCount(meshes []MeshSource) uint64 {
	var count uint64
	for i := range meshes {
		count += uint64(meshes[i].TriangleCount)
	}
	return count
}

// BuildGeometry builds a geometry blob into result using scratch as
// temporary storage. Triangles receive primitive ids in mesh order.
func BuildGeometry(meshes []MeshSource, flags backend.BuildFlags, scratch, result []byte) error {
	if len(meshes) == 0 {
		return fmt.Errorf("bvh: no meshes: %w", backend.ErrInvalidParameter)
	}
	for i := range meshes {
		if err := meshes[i].validate(); err != nil {
			return fmt.Errorf("mesh %d: %w", i, err)
		}
	}

	triCount := TriangleCount(meshes)
	info := GeometryPreBuildInfo(triCount, uint64(len(meshes)))
	if uint64(len(scratch)) < info.BuildScratchSize {
		return fmt.Errorf("bvh: scratch buffer holds %d bytes; need %d: %w", len(scratch), info.BuildScratchSize, backend.ErrInvalidParameter)
	}

	blob, err := create(result, KindGeometry, flags, triCount, uint64(len(meshes)))
	if err != nil {
		return err
	}

	// Stage triangles into their final slot in input order and collect
	// primitive references in the scratch area.
	staged := make([]Triangle, triCount)
	refs := backend.View[primRef](scratch[:triCount*primRefSize])
	workList := make([]BoundedVolume, triCount)
	var primID uint32
	for meshID := range meshes {
		mesh := &meshes[meshID]
		blob.Meshes[meshID] = Mesh{TriangleCount: mesh.TriangleCount, VertexCount: mesh.VertexCount}
		for tri := uint32(0); tri < mesh.TriangleCount; tri, primID = tri+1, primID+1 {
			v0, v1, v2, err := mesh.triangle(tri)
			if err != nil {
				return fmt.Errorf("mesh %d triangle %d: %w", meshID, tri, err)
			}
			staged[primID] = Triangle{V0: v0, V1: v1, V2: v2, PrimID: primID, MeshID: uint32(meshID)}
			refs[primID] = primRef{
				Min:   types.MinVec3(v0, types.MinVec3(v1, v2)),
				Max:   types.MaxVec3(v0, types.MaxVec3(v1, v2)),
				Index: primID,
			}
			workList[primID] = &refs[primID]
		}
	}

	// Leafs consume the staged triangles in traversal order.
	var next int32
	nodes := Build(workList, maxLeafItems, flags&backend.BuildFlagPreferFastBuild != 0,
		func(leaf *Node, items []BoundedVolume) {
			leaf.SetPrimitives(next, int32(len(items)))
			for _, item := range items {
				blob.Triangles[next] = staged[item.(*primRef).Index]
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

// UpdateGeometry refits a geometry blob built with BuildFlagAllowUpdate to
// new vertex positions. The mesh count, triangle counts and vertex counts
// must match the ones used for the build.
func UpdateGeometry(meshes []MeshSource, result []byte) error {
	blob, err := Open(result)
	if err != nil {
		return err
	}
	if blob.Header.Kind != KindGeometry {
		return fmt.Errorf("bvh: cannot update a scene blob as geometry: %w", backend.ErrInvalidParameter)
	}
	if backend.BuildFlags(blob.Header.Flags)&backend.BuildFlagAllowUpdate == 0 {
		return fmt.Errorf("bvh: geometry was not built with the allow-update flag: %w", backend.ErrInvalidParameter)
	}
	if len(meshes) != len(blob.Meshes) {
		return fmt.Errorf("bvh: update mesh count %d does not match build mesh count %d: %w", len(meshes), len(blob.Meshes), backend.ErrInvalidParameter)
	}

	meshBase := make([]uint32, len(meshes))
	var base uint32
	for i := range meshes {
		if err = meshes[i].validate(); err != nil {
			return fmt.Errorf("mesh %d: %w", i, err)
		}
		if meshes[i].TriangleCount != blob.Meshes[i].TriangleCount || meshes[i].VertexCount != blob.Meshes[i].VertexCount {
			return fmt.Errorf("bvh: mesh %d topology changed: %w", i, backend.ErrInvalidParameter)
		}
		meshBase[i] = base
		base += meshes[i].TriangleCount
	}

	for i := range blob.Triangles {
		tri := &blob.Triangles[i]
		mesh := &meshes[tri.MeshID]
		if tri.V0, tri.V1, tri.V2, err = mesh.triangle(tri.PrimID - meshBase[tri.MeshID]); err != nil {
			return err
		}
	}

	refit(blob.Nodes, func(first, count int32) [2]types.Vec3 {
		bbox := emptyBBox()
		for _, tri := range blob.Triangles[first : first+count] {
			bbox[0] = types.MinVec3(bbox[0], types.MinVec3(tri.V0, types.MinVec3(tri.V1, tri.V2)))
			bbox[1] = types.MaxVec3(bbox[1], types.MaxVec3(tri.V0, types.MaxVec3(tri.V1, tri.V2)))
		}
		return bbox
	})
	blob.Header.Min, blob.Header.Max = blob.Nodes[0].Min, blob.Nodes[0].Max
	return nil
}

// Recompute node bounds keeping the tree topology. Nodes are stored in
// pre-order so children always follow their parent.
func refit(nodes []Node, leafBBox func(first, count int32) [2]types.Vec3) {
	for i := len(nodes) - 1; i >= 0; i-- {
		node := &nodes[i]
		if node.IsLeaf() {
			bbox := leafBBox(node.Primitives())
			node.Min, node.Max = bbox[0], bbox[1]
			continue
		}
		left, right := node.Children()
		node.Min = types.MinVec3(nodes[left].Min, nodes[right].Min)
		node.Max = types.MaxVec3(nodes[left].Max, nodes[right].Max)
	}
}

func emptyBBox() [2]types.Vec3 {
	return [2]types.Vec3{
		{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}
