package scene

import (
	"fmt"
	"sort"

	"github.com/achilleasa/rayforge/types"
)

type presetBuilder func() (*Scene, error)

var presets = map[string]presetBuilder{
	"spheres": spheresScene,
	"cornell": cornellScene,
	"fog":     fogScene,
}

// Presets returns the names of the built-in scenes.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPreset builds one of the built-in scenes.
func NewPreset(name string) (*Scene, error) {
	builder, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("scene: unknown preset %q; available presets: %v", name, Presets())
	}
	return builder()
}

type meshPlacement struct {
	name      string
	mesh      *Mesh
	material  uint32
	transform types.Mat3x4
	flags     uint32
}

func (s *Scene) addAll(items []meshPlacement) error {
	for _, item := range items {
		index, err := s.AddMesh(item.name, item.mesh, item.material, item.transform)
		if err != nil {
			return err
		}
		s.Shapes[index].Flags = item.flags
	}
	return nil
}

func lookAt(eye, at types.Vec3, fov float32) *Camera {
	c := NewCamera(fov)
	c.Position = eye
	c.LookAt = at
	c.Update()
	return c
}

// Three spheres with different materials on a ground plane, lit by the sky.
func spheresScene() (*Scene, error) {
	s := NewScene()
	ground := s.AddMaterial(NewLambert(types.XYZ(0.6, 0.6, 0.6)))
	gold := NewDisney(types.XYZ(1.0, 0.78, 0.34))
	gold.Metallic, gold.Roughness = 1, 0.25
	plastic := NewDisney(types.XYZ(0.1, 0.3, 0.8))
	plastic.Clearcoat, plastic.Roughness = 1, 0.6
	velvet := NewDisney(types.XYZ(0.7, 0.1, 0.1))
	velvet.Sheen, velvet.Subsurface, velvet.Roughness = 1, 0.5, 0.9

	sphere := NewSphere(1, 48, 24)
	err := s.addAll([]meshPlacement{
		{"ground", NewQuad(40, 40), ground, types.Ident3x4(), 0},
		{"gold", sphere, s.AddMaterial(gold), types.Translate3x4(types.XYZ(-2.2, 1, 0)), 0},
		{"plastic", sphere, s.AddMaterial(plastic), types.Translate3x4(types.XYZ(0, 1, 0)), 0},
		{"velvet", sphere, s.AddMaterial(velvet), types.Translate3x4(types.XYZ(2.2, 1, 0)), 0},
	})
	if err != nil {
		return nil, err
	}

	s.Environment = NewSky(256, 128, DefaultSky())
	s.SetCamera(lookAt(types.XYZ(0, 2.5, 7), types.XYZ(0, 0.8, 0), 45))
	return s, nil
}

// A closed box lit by an emissive ceiling panel.
func cornellScene() (*Scene, error) {
	s := NewScene()
	white := s.AddMaterial(NewLambert(types.XYZ(0.73, 0.73, 0.73)))
	red := s.AddMaterial(NewLambert(types.XYZ(0.65, 0.05, 0.05)))
	green := s.AddMaterial(NewLambert(types.XYZ(0.12, 0.45, 0.15)))
	light := s.AddMaterial(NewEmissive(types.XYZ(17, 12, 4)))

	wall := NewQuad(2, 2)
	rotX := func(angle float32) types.Mat3x4 {
		return types.QuatFromAxisAngle(types.XYZ(1, 0, 0), angle).Mat3x4()
	}
	rotZ := func(angle float32) types.Mat3x4 {
		return types.QuatFromAxisAngle(types.XYZ(0, 0, 1), angle).Mat3x4()
	}
	at := func(p types.Vec3, m types.Mat3x4) types.Mat3x4 {
		return types.Translate3x4(p).Mul(m)
	}
	const halfPi = 1.5707964

	err := s.addAll([]meshPlacement{
		{"floor", wall, white, types.Ident3x4(), 0},
		{"ceiling", wall, white, at(types.XYZ(0, 2, 0), rotX(2*halfPi)), 0},
		{"back", wall, white, at(types.XYZ(0, 1, -1), rotX(halfPi)), 0},
		{"left", wall, red, at(types.XYZ(-1, 1, 0), rotZ(-halfPi)), 0},
		{"right", wall, green, at(types.XYZ(1, 1, 0), rotZ(halfPi)), 0},
		{"light", NewQuad(0.5, 0.5), light, at(types.XYZ(0, 1.99, 0), rotX(2*halfPi)), 0},
		{"tall", NewBox(types.XYZ(0.6, 1.2, 0.6)), white, at(types.XYZ(-0.35, 0.6, -0.3), types.QuatFromAxisAngle(types.XYZ(0, 1, 0), 0.3).Mat3x4()), 0},
		{"short", NewBox(types.XYZ(0.6, 0.6, 0.6)), white, at(types.XYZ(0.35, 0.3, 0.3), types.QuatFromAxisAngle(types.XYZ(0, 1, 0), -0.3).Mat3x4()), 0},
	})
	if err != nil {
		return nil, err
	}

	s.SetCamera(lookAt(types.XYZ(0, 1, 3.4), types.XYZ(0, 1, 0), 40))
	return s, nil
}

// A translucent box filled with fog sitting on a ground plane.
func fogScene() (*Scene, error) {
	s := NewScene()
	ground := s.AddMaterial(NewLambert(types.XYZ(0.5, 0.5, 0.5)))
	shell := s.AddMaterial(NewTranslucent(types.XYZ(0.95, 0.95, 0.95)))

	err := s.addAll([]meshPlacement{
		{"ground", NewQuad(40, 40), ground, types.Ident3x4(), 0},
		{"fog", NewBox(types.XYZ(2, 2, 2)), shell, types.Translate3x4(types.XYZ(0, 1.001, 0)), ShapeFlagVolume},
	})
	if err != nil {
		return nil, err
	}

	s.Volume = DefaultVolume()
	s.Environment = NewSky(256, 128, DefaultSky())
	s.SetCamera(lookAt(types.XYZ(0, 2.5, 6), types.XYZ(0, 1, 0), 45))
	return s, nil
}
