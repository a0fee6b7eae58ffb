package bxdf

import (
	"math"
	"testing"

	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func testMaterials() map[string]scene.Material {
	metal := scene.NewDisney(types.XYZ(0.9, 0.6, 0.3))
	metal.Metallic, metal.Roughness = 1, 0.3
	coated := scene.NewDisney(types.XYZ(0.2, 0.4, 0.8))
	coated.Clearcoat, coated.Anisotropic = 1, 0.5
	return map[string]scene.Material{
		"lambert":     scene.NewLambert(types.XYZ(0.5, 0.5, 0.5)),
		"translucent": scene.NewTranslucent(types.XYZ(0.8, 0.8, 0.8)),
		"disney":      scene.NewDisney(types.XYZ(0.7, 0.2, 0.2)),
		"metal":       metal,
		"coated":      coated,
	}
}

func TestLambertValue(t *testing.T) {
	m := scene.NewLambert(types.XYZ(1, 0.5, 0))
	wo := types.XYZ(0, 0, 1)
	wi := types.XYZ(0.6, 0, 0.8)

	f := Evaluate(&m, wi, wo)
	exp := types.XYZ(1, 0.5, 0).Mul(invPi)
	if f != exp {
		t.Fatalf("expected %v; got %v", exp, f)
	}
	if f = Evaluate(&m, types.XYZ(0, 0, -1), wo); !f.IsZero() {
		t.Fatalf("expected zero reflectance below the surface; got %v", f)
	}
}

func TestSamplesAreConsistent(t *testing.T) {
	wo := types.XYZ(0.3, -0.2, 0.9).Normalize()

	for name, m := range testMaterials() {
		s := sampling.NewSampler(1, 2)
		for index := uint32(0); index < 128; index++ {
			s.Index = index
			u1, u2 := s.Sample2D(0)
			wi, f, pdf := Sample(&m, wo, u1, u2)
			if pdf == 0 {
				continue
			}
			if exp := Pdf(&m, wi, wo); math.Abs(float64(exp-pdf)) > 1e-4*float64(max(exp, 1)) {
				t.Fatalf("%s: sampled pdf %f does not match Pdf %f", name, pdf, exp)
			}
			if exp := Evaluate(&m, wi, wo); exp != f {
				t.Fatalf("%s: sampled value %v does not match Evaluate %v", name, f, exp)
			}
			for i := 0; i < 3; i++ {
				if f[i] < 0 || math.IsNaN(float64(f[i])) {
					t.Fatalf("%s: invalid value %v", name, f)
				}
			}
		}
	}
}

func TestTranslucentTransmits(t *testing.T) {
	m := scene.NewTranslucent(types.XYZ(1, 1, 1))
	wo := types.XYZ(0, 0, 1)
	wi, f, pdf := Sample(&m, wo, 0.3, 0.7)
	if wi[2] >= 0 {
		t.Fatalf("expected a transmitted direction; got %v", wi)
	}
	if pdf <= 0 || f.IsZero() {
		t.Fatalf("expected a valid sample; got f=%v pdf=%f", f, pdf)
	}
	if f = Evaluate(&m, types.XYZ(0, 0, 1), wo); !f.IsZero() {
		t.Fatalf("expected no reflection; got %v", f)
	}
}

// Estimate the directional albedo with importance sampled directions.
// Energy conserving models never exceed 1.
func TestAlbedoIsBounded(t *testing.T) {
	wo := types.XYZ(0.5, 0, 0.866).Normalize()

	for name, m := range testMaterials() {
		if m.Type == scene.TranslucentMaterial {
			continue
		}
		var sum types.Vec3
		const n = 4096
		s := sampling.NewSampler(7, 3)
		for index := uint32(0); index < n; index++ {
			s.Index = index
			u1, u2 := s.Sample2D(0)
			wi, f, pdf := Sample(&m, wo, u1, u2)
			if pdf == 0 {
				continue
			}
			sum = sum.Add(f.Mul(wi[2] / pdf))
		}
		albedo := sum.Mul(1.0 / n)
		if albedo.MaxComponent() > 1.05 {
			t.Fatalf("%s: expected albedo <= 1; got %v", name, albedo)
		}
		if albedo.MaxComponent() <= 0 {
			t.Fatalf("%s: expected a positive albedo; got %v", name, albedo)
		}
	}
}

func TestFresnelToggle(t *testing.T) {
	on := scene.NewDisney(types.XYZ(0.5, 0.5, 0.5))
	off := on
	off.Fresnel = 0

	wo := types.XYZ(0.95, 0, 0.1).Normalize()
	wi := types.XYZ(-0.95, 0, 0.1).Normalize()
	if Evaluate(&on, wi, wo).MaxComponent() <= Evaluate(&off, wi, wo).MaxComponent() {
		t.Fatal("expected the Fresnel term to brighten grazing reflections")
	}
}

func TestEmission(t *testing.T) {
	m := scene.NewEmissive(types.XYZ(3, 2, 1))
	if got := Emission(&m); got != types.XYZ(3, 2, 1) {
		t.Fatalf("expected emission (3, 2, 1); got %v", got)
	}
	if _, _, pdf := Sample(&m, types.XYZ(0, 0, 1), 0.5, 0.5); pdf != 0 {
		t.Fatalf("expected emissive materials not to scatter; got pdf %f", pdf)
	}
	lambert := scene.NewLambert(types.XYZ(1, 1, 1))
	if !Emission(&lambert).IsZero() {
		t.Fatal("expected non-emissive materials not to emit")
	}
}
