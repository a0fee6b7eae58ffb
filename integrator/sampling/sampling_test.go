package sampling

import (
	"math"
	"testing"

	"github.com/achilleasa/rayforge/types"
)

func TestSobolFirstDimensionIsVanDerCorput(t *testing.T) {
	exp := []float32{0, 0.5, 0.25, 0.75, 0.125, 0.625, 0.375, 0.875}
	for index, v := range exp {
		if got := ToFloat(Sobol(uint32(index), 0)); got != v {
			t.Fatalf("expected sample %d to be %f; got %f", index, v, got)
		}
	}
}

func TestSobolIsStratified(t *testing.T) {
	// The first 2^k points of every dimension fall into distinct
	// intervals of width 2^-k.
	const k = 6
	for dim := uint32(0); dim < SobolDimensions; dim++ {
		var seen [1 << k]bool
		for index := uint32(0); index < 1<<k; index++ {
			cell := Sobol(index, dim) >> (32 - k)
			if seen[cell] {
				t.Fatalf("dimension %d: cell %d visited twice within the first %d points", dim, cell, 1<<k)
			}
			seen[cell] = true
		}
	}
}

func TestSamplerRange(t *testing.T) {
	for pixel := uint32(0); pixel < 64; pixel++ {
		s := NewSampler(pixel, 42)
		for index := uint32(0); index < 32; index++ {
			s.Index = index
			for dim := uint32(0); dim < SobolDimensions+8; dim++ {
				if v := s.Sample1D(dim); v < 0 || v >= 1 {
					t.Fatalf("pixel %d, index %d, dim %d: sample %f outside [0, 1)", pixel, index, dim, v)
				}
			}
		}
	}
}

func TestSamplerRotationDiffersPerPixel(t *testing.T) {
	a := NewSampler(0, 1)
	b := NewSampler(1, 1)
	if a.Sample1D(0) == b.Sample1D(0) && a.Sample1D(1) == b.Sample1D(1) {
		t.Fatal("expected neighboring pixels to use different rotations")
	}
	if NewSampler(5, 7) != NewSampler(5, 7) {
		t.Fatal("expected sampler construction to be deterministic")
	}
}

func TestPowerHeuristicWeightsSumToOne(t *testing.T) {
	pdfs := []float32{1e-4, 0.01, 0.3, 1, 2.5, 17, 1000}
	for _, p := range pdfs {
		for _, q := range pdfs {
			sum := PowerHeuristic(1, p, 1, q) + PowerHeuristic(1, q, 1, p)
			if math.Abs(float64(sum-1)) > 1e-5 {
				t.Fatalf("expected weights for pdfs (%f, %f) to sum to 1; got %f", p, q, sum)
			}
			sum = BalanceHeuristic(1, p, 1, q) + BalanceHeuristic(1, q, 1, p)
			if math.Abs(float64(sum-1)) > 1e-5 {
				t.Fatalf("expected balance weights for pdfs (%f, %f) to sum to 1; got %f", p, q, sum)
			}
		}
	}

	if w := PowerHeuristic(1, 0, 1, 0); w != 0 {
		t.Fatalf("expected zero weight for two degenerate pdfs; got %f", w)
	}
	if w := PowerHeuristic(1, 0.5, 1, 0); w != 1 {
		t.Fatalf("expected full weight when the other strategy cannot sample; got %f", w)
	}
}

func TestHemisphereSampling(t *testing.T) {
	s := NewSampler(3, 9)
	for index := uint32(0); index < 256; index++ {
		s.Index = index
		u1, u2 := s.Sample2D(0)

		for name, dir := range map[string]types.Vec3{
			"cosine":  CosineHemisphere(u1, u2),
			"uniform": UniformHemisphere(u1, u2),
		} {
			if dir[2] < 0 {
				t.Fatalf("%s: expected direction in the upper hemisphere; got %v", name, dir)
			}
			if l := dir.Len(); math.Abs(float64(l-1)) > 1e-4 {
				t.Fatalf("%s: expected unit direction; got length %f", name, l)
			}
		}

		if l := UniformSphere(u1, u2).Len(); math.Abs(float64(l-1)) > 1e-4 {
			t.Fatalf("expected unit sphere direction; got length %f", l)
		}
	}
}

func TestLocalFrameRoundTrip(t *testing.T) {
	n := types.XYZ(0.3, -0.8, 0.5).Normalize()
	v := types.XYZ(-0.2, 0.4, 0.9).Normalize()

	back := ToWorld(n, ToLocal(n, v))
	for i := 0; i < 3; i++ {
		if math.Abs(float64(back[i]-v[i])) > 1e-5 {
			t.Fatalf("expected %v after round trip; got %v", v, back)
		}
	}
	if z := ToLocal(n, n)[2]; math.Abs(float64(z-1)) > 1e-5 {
		t.Fatalf("expected the normal to map to +Z; got z=%f", z)
	}
}
