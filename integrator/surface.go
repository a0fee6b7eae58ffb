package integrator

import (
	"github.com/achilleasa/rayforge/integrator/envmap"
	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

// Mapped scene buffers used by the shading kernels.
type sceneView struct {
	vertices  []types.Vec3
	normals   []types.Vec3
	indices   []uint32
	shapes    []shapeData
	materials []scene.Material
	volume    *scene.Volume
	env       *envmap.Map
}

func (r *Renderer) mapScene(v *hostView) sceneView {
	cs := r.scene
	sv := sceneView{
		vertices:  view[types.Vec3](v, cs.vertices),
		normals:   view[types.Vec3](v, cs.normals),
		indices:   view[uint32](v, cs.indices),
		shapes:    view[shapeData](v, cs.shapes),
		materials: view[scene.Material](v, cs.materials),
		env:       cs.env,
	}
	if cs.volume != nil {
		if vol := view[scene.Volume](v, cs.volume); len(vol) != 0 {
			sv.volume = &vol[0]
		}
	}
	return sv
}

// Surface data reconstructed from a hit record.
type surfaceHit struct {
	position   types.Vec3
	normal     types.Vec3
	geomNormal types.Vec3
	shape      *shapeData
	material   *scene.Material
}

// World space triangle vertices for a hit.
func (sv *sceneView) triangle(hit *rr.Hit) (*shapeData, [3]uint32, [3]types.Vec3) {
	shape := &sv.shapes[hit.InstID]
	base := shape.StartIdx + 3*hit.PrimID
	var idx [3]uint32
	var pos [3]types.Vec3
	for i := range idx {
		idx[i] = shape.StartVtx + sv.indices[base+uint32(i)]
		pos[i] = shape.Transform.TransformPoint(sv.vertices[idx[i]])
	}
	return shape, idx, pos
}

func barycentric(hit *rr.Hit, v [3]types.Vec3) types.Vec3 {
	u, w := hit.UV[0], hit.UV[1]
	return v[0].Mul(1 - u - w).Add(v[1].Mul(u)).Add(v[2].Mul(w))
}

// Distance along the ray to a hit. Hit records carry no distance so it is
// recovered from the triangle and the barycentrics.
func (sv *sceneView) hitDistance(ray *rr.Ray, hit *rr.Hit) float32 {
	_, _, pos := sv.triangle(hit)
	dir := types.Vec3(ray.Direction)
	return barycentric(hit, pos).Sub(ray.Origin).Dot(dir) / dir.Dot(dir)
}

func (sv *sceneView) surface(hit *rr.Hit) surfaceHit {
	shape, idx, pos := sv.triangle(hit)
	geomNormal := pos[1].Sub(pos[0]).Cross(pos[2].Sub(pos[0])).Normalize()

	normal := geomNormal
	if int(max(idx[0], idx[1], idx[2])) < len(sv.normals) {
		n := barycentric(hit, [3]types.Vec3{sv.normals[idx[0]], sv.normals[idx[1]], sv.normals[idx[2]]})
		if !n.IsZero() {
			normal = shape.Inverse.TransformNormal(n).Normalize()
		}
	}

	return surfaceHit{
		position:   barycentric(hit, pos),
		normal:     normal,
		geomNormal: geomNormal,
		shape:      shape,
		material:   &sv.materials[shape.Material],
	}
}

// Orient the normals of a surface towards wo.
func (s *surfaceHit) faceForward(wo types.Vec3) {
	if s.geomNormal.Dot(wo) < 0 {
		s.geomNormal = s.geomNormal.Neg()
	}
	if s.normal.Dot(s.geomNormal) < 0 {
		s.normal = s.normal.Neg()
	}
}

// Spawn a ray leaving the surface in dir. The origin is pushed along the
// geometric normal to the side dir points to.
func (s *surfaceHit) spawn(dir types.Vec3, maxT float32) rr.Ray {
	offset := s.geomNormal.Mul(rayEpsilon)
	if dir.Dot(s.geomNormal) < 0 {
		offset = offset.Neg()
	}
	return rr.Ray{
		Origin:    s.position.Add(offset),
		Direction: dir,
		MaxT:      maxT,
	}
}
