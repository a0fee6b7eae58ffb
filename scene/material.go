package scene

import "github.com/achilleasa/rayforge/types"

type MaterialType uint32

const (
	LambertMaterial MaterialType = iota
	DisneyMaterial
	TranslucentMaterial
	EmissiveMaterial
)

func (t MaterialType) String() string {
	switch t {
	case LambertMaterial:
		return "lambert"
	case DisneyMaterial:
		return "disney"
	case TranslucentMaterial:
		return "translucent"
	case EmissiveMaterial:
		return "emissive"
	}
	return "unknown"
}

// Defines a scene material. The layout is fixed so materials can be copied
// into device buffers as-is.
type Material struct {
	// The type of the material.
	Type MaterialType

	// Base (diffuse) color.
	BaseColor types.Vec3

	// Emitted radiance (emissive materials only).
	Emission types.Vec3

	// Disney principled parameters, all in [0, 1].
	Metallic       float32
	Subsurface     float32
	Specular       float32
	SpecularTint   float32
	Roughness      float32
	Anisotropic    float32
	Sheen          float32
	SheenTint      float32
	Clearcoat      float32
	ClearcoatGloss float32

	// When non-zero the specular and clearcoat layers are weighted by the
	// Schlick Fresnel term; otherwise they reflect with their normal
	// incidence reflectance at every angle.
	Fresnel float32
}

// Create a lambertian material.
func NewLambert(color types.Vec3) Material {
	return Material{Type: LambertMaterial, BaseColor: color}
}

// Create a translucent material that diffusely transmits light.
func NewTranslucent(color types.Vec3) Material {
	return Material{Type: TranslucentMaterial, BaseColor: color}
}

// Create an emissive material.
func NewEmissive(radiance types.Vec3) Material {
	return Material{Type: EmissiveMaterial, Emission: radiance}
}

// Create a Disney material with the reference default parameters.
func NewDisney(color types.Vec3) Material {
	return Material{
		Type:           DisneyMaterial,
		BaseColor:      color,
		Specular:       0.5,
		Roughness:      0.5,
		SheenTint:      0.5,
		ClearcoatGloss: 1,
		Fresnel:        1,
	}
}

// Return true if the material emits light.
func (m *Material) IsEmissive() bool {
	return m.Type == EmissiveMaterial
}
