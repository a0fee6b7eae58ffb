// Package bxdf evaluates and samples the surface scattering models. All
// directions are expressed in the local shading frame where +Z is the
// shading normal; wo points towards the viewer and wi towards the light.
package bxdf

import (
	"math"

	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

const invPi = float32(1 / math.Pi)

func sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(max(v, 0))))
}

// Evaluate returns the value of the scattering function for the pair of
// directions. The cosine term is not included.
func Evaluate(m *scene.Material, wi, wo types.Vec3) types.Vec3 {
	switch m.Type {
	case scene.LambertMaterial:
		if wi[2] <= 0 || wo[2] <= 0 {
			return types.Vec3{}
		}
		return m.BaseColor.Mul(invPi)
	case scene.TranslucentMaterial:
		if wi[2]*wo[2] >= 0 {
			return types.Vec3{}
		}
		return m.BaseColor.Mul(invPi)
	case scene.DisneyMaterial:
		return disneyEvaluate(m, wi, wo)
	}
	return types.Vec3{}
}

// Pdf returns the solid angle density with which Sample generates wi.
func Pdf(m *scene.Material, wi, wo types.Vec3) float32 {
	switch m.Type {
	case scene.LambertMaterial:
		if wo[2] <= 0 {
			return 0
		}
		return sampling.CosineHemispherePdf(wi[2])
	case scene.TranslucentMaterial:
		if wi[2]*wo[2] >= 0 {
			return 0
		}
		return sampling.CosineHemispherePdf(float32(math.Abs(float64(wi[2]))))
	case scene.DisneyMaterial:
		return disneyPdf(m, wi, wo)
	}
	return 0
}

// Sample draws an incident direction for wo and returns it along with the
// scattering function value and pdf. A zero pdf marks a failed sample.
func Sample(m *scene.Material, wo types.Vec3, u1, u2 float32) (types.Vec3, types.Vec3, float32) {
	var wi types.Vec3
	switch m.Type {
	case scene.LambertMaterial:
		wi = sampling.CosineHemisphere(u1, u2)
	case scene.TranslucentMaterial:
		wi = sampling.CosineHemisphere(u1, u2)
		if wo[2] > 0 {
			wi[2] = -wi[2]
		}
	case scene.DisneyMaterial:
		wi = disneySample(m, wo, u1, u2)
	default:
		return types.Vec3{}, types.Vec3{}, 0
	}

	pdf := Pdf(m, wi, wo)
	if pdf <= 0 {
		return wi, types.Vec3{}, 0
	}
	return wi, Evaluate(m, wi, wo), pdf
}

// Emission returns the radiance emitted by the material.
func Emission(m *scene.Material) types.Vec3 {
	if m.Type != scene.EmissiveMaterial {
		return types.Vec3{}
	}
	return m.Emission
}
