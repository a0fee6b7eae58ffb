package scene

import (
	"fmt"
	"math"

	"github.com/achilleasa/rayforge/types"
)

// Mesh is an indexed triangle mesh with per-vertex attributes.
type Mesh struct {
	Vertices []types.Vec3
	Normals  []types.Vec3
	UVs      []types.Vec2
	Indices  []uint32
}

func (m *Mesh) validate() error {
	switch {
	case len(m.Vertices) == 0 || len(m.Indices) == 0:
		return fmt.Errorf("%w: empty mesh", ErrInvalidMesh)
	case len(m.Indices)%3 != 0:
		return fmt.Errorf("%w: index count %d is not a multiple of 3", ErrInvalidMesh, len(m.Indices))
	case len(m.Normals) != len(m.Vertices) || len(m.UVs) != len(m.Vertices):
		return fmt.Errorf("%w: %d vertices, %d normals and %d uvs", ErrInvalidMesh, len(m.Vertices), len(m.Normals), len(m.UVs))
	}
	for _, index := range m.Indices {
		if int(index) >= len(m.Vertices) {
			return fmt.Errorf("%w: index %d out of range", ErrInvalidMesh, index)
		}
	}
	return nil
}

// Append a quad (two triangles) given its corners in counter-clockwise order.
func (m *Mesh) addQuad(p0, p1, p2, p3, n types.Vec3) {
	base := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, p0, p1, p2, p3)
	m.Normals = append(m.Normals, n, n, n, n)
	m.UVs = append(m.UVs, types.XY(0, 0), types.XY(1, 0), types.XY(1, 1), types.XY(0, 1))
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}

// NewQuad creates a w x d quad on the XZ plane, centered at the origin and
// facing +Y.
func NewQuad(w, d float32) *Mesh {
	m := &Mesh{}
	hw, hd := w/2, d/2
	m.addQuad(
		types.XYZ(-hw, 0, hd),
		types.XYZ(hw, 0, hd),
		types.XYZ(hw, 0, -hd),
		types.XYZ(-hw, 0, -hd),
		types.XYZ(0, 1, 0),
	)
	return m
}

// NewBox creates an axis aligned box of the given size centered at the
// origin with outward facing normals.
func NewBox(size types.Vec3) *Mesh {
	m := &Mesh{}
	h := size.Mul(0.5)
	x, y, z := h[0], h[1], h[2]

	m.addQuad(types.XYZ(-x, -y, z), types.XYZ(x, -y, z), types.XYZ(x, y, z), types.XYZ(-x, y, z), types.XYZ(0, 0, 1))
	m.addQuad(types.XYZ(x, -y, -z), types.XYZ(-x, -y, -z), types.XYZ(-x, y, -z), types.XYZ(x, y, -z), types.XYZ(0, 0, -1))
	m.addQuad(types.XYZ(x, -y, z), types.XYZ(x, -y, -z), types.XYZ(x, y, -z), types.XYZ(x, y, z), types.XYZ(1, 0, 0))
	m.addQuad(types.XYZ(-x, -y, -z), types.XYZ(-x, -y, z), types.XYZ(-x, y, z), types.XYZ(-x, y, -z), types.XYZ(-1, 0, 0))
	m.addQuad(types.XYZ(-x, y, z), types.XYZ(x, y, z), types.XYZ(x, y, -z), types.XYZ(-x, y, -z), types.XYZ(0, 1, 0))
	m.addQuad(types.XYZ(-x, -y, -z), types.XYZ(x, -y, -z), types.XYZ(x, -y, z), types.XYZ(-x, -y, z), types.XYZ(0, -1, 0))
	return m
}

// NewSphere creates a UV sphere centered at the origin.
func NewSphere(radius float32, slices, stacks int) *Mesh {
	slices = max(slices, 3)
	stacks = max(stacks, 2)

	m := &Mesh{}
	for stack := 0; stack <= stacks; stack++ {
		v := float32(stack) / float32(stacks)
		sinTheta, cosTheta := math.Sincos(float64(v) * math.Pi)
		for slice := 0; slice <= slices; slice++ {
			u := float32(slice) / float32(slices)
			sinPhi, cosPhi := math.Sincos(float64(u) * 2 * math.Pi)
			n := types.XYZ(float32(sinTheta*cosPhi), float32(cosTheta), float32(sinTheta*sinPhi))
			m.Vertices = append(m.Vertices, n.Mul(radius))
			m.Normals = append(m.Normals, n)
			m.UVs = append(m.UVs, types.XY(u, v))
		}
	}

	row := uint32(slices + 1)
	for stack := uint32(0); stack < uint32(stacks); stack++ {
		for slice := uint32(0); slice < uint32(slices); slice++ {
			a := stack*row + slice
			b := a + row
			m.Indices = append(m.Indices, a, a+1, b, a+1, b+1, b)
		}
	}
	return m
}
