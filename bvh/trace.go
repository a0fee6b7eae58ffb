package bvh

import (
	"fmt"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

// StackSize is the number of traversal stack entries each ray needs. The
// scene and geometry trees share the stack.
const StackSize = 64

// Tracer traverses a scene blob and the geometry blobs its instances
// reference. All blobs live in the same heap.
type Tracer struct {
	scene    *Blob
	geometry map[uint64]*Blob
}

// NewTracer opens the scene blob at sceneOffset inside heap and all
// geometries it references.
func NewTracer(heap []byte, sceneOffset uint64) (*Tracer, error) {
	if sceneOffset >= uint64(len(heap)) {
		return nil, fmt.Errorf("bvh: scene offset %d outside heap: %w", sceneOffset, backend.ErrInvalidParameter)
	}
	scene, err := Open(heap[sceneOffset:])
	if err != nil {
		return nil, err
	}
	if scene.Header.Kind != KindScene {
		return nil, fmt.Errorf("bvh: blob at %d is not a scene: %w", sceneOffset, backend.ErrInvalidParameter)
	}

	t := &Tracer{
		scene:    scene,
		geometry: make(map[uint64]*Blob),
	}
	for i := range scene.Instances {
		off := scene.Instances[i].GeometryOffset
		if _, ok := t.geometry[off]; ok {
			continue
		}
		if off >= uint64(len(heap)) {
			return nil, fmt.Errorf("bvh: instance %d geometry offset %d outside heap: %w", i, off, backend.ErrInvalidParameter)
		}
		geom, err := Open(heap[off:])
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		if geom.Header.Kind != KindGeometry {
			return nil, fmt.Errorf("bvh: instance %d does not reference a geometry: %w", i, backend.ErrInvalidParameter)
		}
		t.geometry[off] = geom
	}
	return t, nil
}

// Trace a single ray. The stack must hold at least StackSize entries.
func (t *Tracer) Trace(ray *backend.Ray, query backend.IntersectQuery, stack []int32) backend.Hit {
	hit := backend.Hit{InstID: backend.InvalidID, PrimID: backend.InvalidID}
	if len(t.scene.Nodes) == 0 {
		return hit
	}

	org := types.Vec3(ray.Origin)
	dir := types.Vec3(ray.Direction)
	invDir := reciprocal(dir)
	tMin, tMax := ray.MinT, ray.MaxT

	sp := 0
	nodeIndex := int32(0)
	for {
		node := &t.scene.Nodes[nodeIndex]
		if intersectBox(node.Min, node.Max, org, invDir, tMin, tMax) {
			if !node.IsLeaf() {
				left, right := node.Children()
				stack[sp] = right
				sp++
				nodeIndex = left
				continue
			}

			first, count := node.Primitives()
			for _, inst := range t.scene.Instances[first : first+count] {
				objOrg := inst.Inverse.TransformPoint(org)
				objDir := inst.Inverse.TransformVector(dir)
				geom := t.geometry[inst.GeometryOffset]
				if traceGeometry(geom, objOrg, objDir, tMin, &tMax, query, stack[sp:], &hit) {
					hit.InstID = inst.InstanceID
					if query == backend.QueryAny {
						return hit
					}
				}
			}
		}

		if sp == 0 {
			return hit
		}
		sp--
		nodeIndex = stack[sp]
	}
}

// Traverse a geometry tree in object space. Returns true if a hit was
// recorded; tMax shrinks to the hit distance.
func traceGeometry(geom *Blob, org, dir types.Vec3, tMin float32, tMax *float32, query backend.IntersectQuery, stack []int32, hit *backend.Hit) bool {
	invDir := reciprocal(dir)
	found := false

	sp := 0
	nodeIndex := int32(0)
	for {
		node := &geom.Nodes[nodeIndex]
		if intersectBox(node.Min, node.Max, org, invDir, tMin, *tMax) {
			if !node.IsLeaf() {
				left, right := node.Children()
				stack[sp] = right
				sp++
				nodeIndex = left
				continue
			}

			first, count := node.Primitives()
			for i := first; i < first+count; i++ {
				tri := &geom.Triangles[i]
				dist, u, v, ok := intersectTriangle(tri, org, dir, tMin, *tMax)
				if !ok {
					continue
				}
				*tMax = dist
				hit.UV = [2]float32{u, v}
				hit.PrimID = tri.PrimID
				found = true
				if query == backend.QueryAny {
					return true
				}
			}
		}

		if sp == 0 {
			return found
		}
		sp--
		nodeIndex = stack[sp]
	}
}

func reciprocal(v types.Vec3) types.Vec3 {
	// Division by zero yields signed infinities which the slab test handles.
	return types.Vec3{1 / v[0], 1 / v[1], 1 / v[2]}
}

// Slab test against [tMin, tMax].
func intersectBox(min, max, org, invDir types.Vec3, tMin, tMax float32) bool {
	for axis := 0; axis < 3; axis++ {
		t0 := (min[axis] - org[axis]) * invDir[axis]
		t1 := (max[axis] - org[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return false
		}
	}
	return true
}

// Möller-Trumbore ray/triangle test. The returned u and v are the
// barycentric weights of V1 and V2.
func intersectTriangle(tri *Triangle, org, dir types.Vec3, tMin, tMax float32) (t, u, v float32, ok bool) {
	e1 := tri.V1.Sub(tri.V0)
	e2 := tri.V2.Sub(tri.V0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det == 0 {
		return
	}
	invDet := 1 / det

	s := org.Sub(tri.V0)
	u = s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return
	}

	q := s.Cross(e1)
	v = dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return
	}

	t = e2.Dot(q) * invDet
	if t < tMin || t > tMax {
		return
	}
	return t, u, v, true
}
