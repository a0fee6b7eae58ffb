// Package scene contains the in-memory scene model consumed by the
// integrator together with a set of procedural scene and sky builders.
package scene

import (
	"errors"
	"fmt"

	"github.com/achilleasa/rayforge/types"
)

var (
	ErrNoCamera         = errors.New("scene: no camera defined")
	ErrNoShapes         = errors.New("scene: no shapes defined")
	ErrUnknownMaterial  = errors.New("scene: shape references unknown material")
	ErrInvalidMesh      = errors.New("scene: invalid mesh")
	ErrInvalidTexelData = errors.New("scene: texel count does not match environment dimensions")
)

// Shape flags.
const (
	// The shape encloses the scene volume. Paths that cross its surface
	// enter or leave the volume.
	ShapeFlagVolume uint32 = 1 << iota
)

// Shape describes a mesh inside the shared scene arrays. Triangle indices
// are relative to StartVtx.
type Shape struct {
	Name string

	// Shape starting index in the Indices array.
	StartIdx uint32

	// Number of triangles in the shape.
	NumPrims uint32

	// First vertex and number of vertices.
	StartVtx    uint32
	NumVertices uint32

	// Index into the scene material list.
	Material uint32

	Flags uint32

	// Object to world transform.
	Transform types.Mat3x4
}

// Environment is a lat-long float texture lighting the scene from infinity.
// Texels are stored row-major starting from the +Y pole.
type Environment struct {
	Width, Height int
	Texels        []types.Vec3

	// Radiance multiplier.
	Multiplier float32
}

type Scene struct {
	Camera *Camera

	// Geometry, shared by all shapes.
	Vertices []types.Vec3
	Normals  []types.Vec3
	UVs      []types.Vec2
	Indices  []uint32

	Shapes    []Shape
	Materials []Material

	Environment *Environment

	// The single homogeneous volume enclosed by shapes flagged with
	// ShapeFlagVolume. Nil if the scene has no participating media.
	Volume *Volume
}

func NewScene() *Scene {
	return &Scene{
		Vertices:  make([]types.Vec3, 0),
		Normals:   make([]types.Vec3, 0),
		UVs:       make([]types.Vec2, 0),
		Indices:   make([]uint32, 0),
		Shapes:    make([]Shape, 0),
		Materials: make([]Material, 0),
	}
}

// Attach a camera to the scene.
func (s *Scene) SetCamera(camera *Camera) {
	s.Camera = camera
}

// Add a material to the scene and return its index.
func (s *Scene) AddMaterial(material Material) uint32 {
	s.Materials = append(s.Materials, material)
	return uint32(len(s.Materials) - 1)
}

// Add a mesh to the scene and return its shape index. Indices are relative
// to the mesh vertex list.
func (s *Scene) AddMesh(name string, mesh *Mesh, material uint32, transform types.Mat3x4) (int, error) {
	if int(material) >= len(s.Materials) {
		return -1, fmt.Errorf("%w: shape %q uses material %d; scene defines %d", ErrUnknownMaterial, name, material, len(s.Materials))
	}
	if err := mesh.validate(); err != nil {
		return -1, fmt.Errorf("shape %q: %w", name, err)
	}

	shape := Shape{
		Name:        name,
		StartIdx:    uint32(len(s.Indices)),
		NumPrims:    uint32(len(mesh.Indices) / 3),
		StartVtx:    uint32(len(s.Vertices)),
		NumVertices: uint32(len(mesh.Vertices)),
		Material:    material,
		Transform:   transform,
	}

	s.Vertices = append(s.Vertices, mesh.Vertices...)
	s.Normals = append(s.Normals, mesh.Normals...)
	s.UVs = append(s.UVs, mesh.UVs...)
	s.Indices = append(s.Indices, mesh.Indices...)
	s.Shapes = append(s.Shapes, shape)
	return len(s.Shapes) - 1, nil
}

// ShapeVertices returns the vertex positions of a shape in object space.
func (s *Scene) ShapeVertices(shape int) []types.Vec3 {
	sh := &s.Shapes[shape]
	return s.Vertices[sh.StartVtx : sh.StartVtx+sh.NumVertices]
}

// ShapeIndices returns the shape-relative triangle indices of a shape.
func (s *Scene) ShapeIndices(shape int) []uint32 {
	sh := &s.Shapes[shape]
	return s.Indices[sh.StartIdx : sh.StartIdx+3*sh.NumPrims]
}

// Validate checks that the scene can be rendered.
func (s *Scene) Validate() error {
	if s.Camera == nil {
		return ErrNoCamera
	}
	if len(s.Shapes) == 0 {
		return ErrNoShapes
	}
	for i, shape := range s.Shapes {
		if int(shape.Material) >= len(s.Materials) {
			return fmt.Errorf("%w: shape %d uses material %d", ErrUnknownMaterial, i, shape.Material)
		}
	}
	if env := s.Environment; env != nil && len(env.Texels) != env.Width*env.Height {
		return fmt.Errorf("%w: %dx%d with %d texels", ErrInvalidTexelData, env.Width, env.Height, len(env.Texels))
	}
	return nil
}
