package envmap

import (
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func TestInvalidDimensions(t *testing.T) {
	if _, err := New(4, 4, make([]types.Vec3, 3), 1); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("expected error %v; got %v", ErrInvalidDimensions, err)
	}
}

func TestUniformLookup(t *testing.T) {
	m, err := FromEnvironment(scene.NewUniformEnvironment(16, 8, types.XYZ(0.5, 1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	m.multiplier = 2

	dirs := []types.Vec3{{0, 1, 0}, {0, -1, 0}, {1, 0, 0}, {-0.3, 0.2, 0.9}}
	for _, dir := range dirs {
		got := m.Lookup(dir.Normalize())
		for i, exp := range []float32{1, 2, 4} {
			if math.Abs(float64(got[i]-exp)) > 1e-5 {
				t.Fatalf("dir %v: expected (1, 2, 4); got %v", dir, got)
			}
		}
	}
}

func TestUniformIntegral(t *testing.T) {
	m, err := FromEnvironment(scene.NewUniformEnvironment(64, 32, types.Splat3(1)))
	if err != nil {
		t.Fatal(err)
	}

	const n = 4096
	var sum float64
	s := sampling.NewSampler(0, 0)
	for index := uint32(0); index < n; index++ {
		s.Index = index
		_, radiance, pdf := m.Sample(s.Sample2D(0))
		if pdf <= 0 {
			t.Fatalf("sample %d: expected a positive pdf", index)
		}
		sum += float64(radiance[0] / pdf)
	}

	if got := sum / n; math.Abs(got-4*math.Pi)/(4*math.Pi) > 0.03 {
		t.Fatalf("expected the estimated integral to be close to 4*pi; got %f", got)
	}
}

func TestSamplePdfMatchesPdf(t *testing.T) {
	m, err := FromEnvironment(scene.NewSky(64, 32, scene.DefaultSky()))
	if err != nil {
		t.Fatal(err)
	}

	s := sampling.NewSampler(3, 1)
	for index := uint32(0); index < 512; index++ {
		s.Index = index
		dir, _, pdf := m.Sample(s.Sample2D(0))
		if pdf == 0 {
			continue
		}
		if exp := m.Pdf(dir); math.Abs(float64(exp-pdf)) > 1e-2*float64(pdf) {
			t.Fatalf("sample %d: expected pdf %f; Pdf reports %f", index, pdf, exp)
		}
	}
}

func TestSamplesFavorBrightTexels(t *testing.T) {
	const w, h = 32, 16
	texels := make([]types.Vec3, w*h)
	for i := range texels {
		texels[i] = types.Splat3(0.01)
	}
	bright := 5*w + 20
	texels[bright] = types.Splat3(1000)

	m, err := New(w, h, texels, 1)
	if err != nil {
		t.Fatal(err)
	}

	hits := 0
	const n = 1024
	s := sampling.NewSampler(9, 9)
	for index := uint32(0); index < n; index++ {
		s.Index = index
		dir, _, _ := m.Sample(s.Sample2D(0))
		u, v := scene.LatLongUV(dir)
		x := min(int(u*w), w-1)
		y := min(int(v*h), h-1)
		if y*w+x == bright {
			hits++
		}
	}
	if hits < n*9/10 {
		t.Fatalf("expected most samples to pick the bright texel; got %d of %d", hits, n)
	}
}

func TestLatLongRoundTrip(t *testing.T) {
	for _, uv := range [][2]float32{{0.1, 0.2}, {0.5, 0.5}, {0.9, 0.7}, {0.33, 0.95}} {
		u, v := scene.LatLongUV(scene.LatLongDirection(uv[0], uv[1]))
		if math.Abs(float64(u-uv[0])) > 1e-4 || math.Abs(float64(v-uv[1])) > 1e-4 {
			t.Fatalf("expected (%f, %f) after round trip; got (%f, %f)", uv[0], uv[1], u, v)
		}
	}
}
