package integrator

import (
	"testing"

	"github.com/achilleasa/rayforge/integrator/bxdf"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func TestClampRadiance(t *testing.T) {
	specs := []struct {
		in  types.Vec3
		exp types.Vec3
	}{
		{types.Vec3{0.5, 2, 9.5}, types.Vec3{0.5, 2, 9.5}},
		{types.Vec3{-1, 10, 250}, types.Vec3{0, 10, maxSampleRadiance}},
	}
	for index, spec := range specs {
		if got := clampRadiance(spec.in); got != spec.exp {
			t.Fatalf("[spec %d] expected %v; got %v", index, spec.exp, got)
		}
	}
}

func TestContinuationHemisphere(t *testing.T) {
	lambert := scene.NewLambert(types.XYZ(0.5, 0.5, 0.5))
	translucent := scene.NewTranslucent(types.XYZ(0.5, 0.5, 0.5))
	up, down := types.Vec3{0, 0.6, 0.8}, types.Vec3{0, 0.6, -0.8}

	if cos := continuationCos(&lambert, up); cos != 0.8 {
		t.Fatalf("expected reflected cosine 0.8; got %f", cos)
	}
	if cos := continuationCos(&lambert, down); cos > minContinuationCos {
		t.Fatalf("expected a reflective lobe to reject a transmitted direction; got cosine %f", cos)
	}
	if cos := continuationCos(&translucent, down); cos != 0.8 {
		t.Fatalf("expected transmitted cosine 0.8; got %f", cos)
	}
	if cos := continuationCos(&translucent, up); cos > minContinuationCos {
		t.Fatalf("expected a translucent lobe to reject a reflected direction; got cosine %f", cos)
	}

	// Directions drawn from each lobe land on the side it scatters to.
	wo := types.Vec3{0, 0, 1}
	for _, mat := range []*scene.Material{&lambert, &translucent} {
		for i := 0; i < 16; i++ {
			u := (float32(i) + 0.5) / 16
			wi, _, pdf := bxdf.Sample(mat, wo, u, 1-u)
			if pdf > 0 && continuationCos(mat, wi) <= 0 {
				t.Fatalf("[%s] sample %d: expected %v to lie in the scattering hemisphere", mat.Type, i, wi)
			}
		}
	}
}
