package sh

import (
	"math"
	"testing"

	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func approx(a, b, tolerance float32) bool {
	return math.Abs(float64(a-b)) <= float64(tolerance)
}

func TestIndex(t *testing.T) {
	next := 0
	for l := 0; l <= MaxBand; l++ {
		for m := -l; m <= l; m++ {
			if got := Index(l, m); got != next {
				t.Fatalf("expected Index(%d, %d) to be %d; got %d", l, m, next, got)
			}
			next++
		}
	}
	if next != NumCoefficients {
		t.Fatalf("expected %d coefficients; got %d", NumCoefficients, next)
	}
}

func TestBasis(t *testing.T) {
	specs := []struct {
		dir types.Vec3
		l   int
		m   int
		exp float32
	}{
		{types.Vec3{0, 0, 1}, 0, 0, 0.282095},
		{types.Vec3{0, 0, 1}, 1, 0, 0.488603},
		{types.Vec3{0, 0, 1}, 2, 0, 0.630784},
		{types.Vec3{0, 0, 1}, 1, 1, 0},
		{types.Vec3{1, 0, 0}, 1, 1, -0.488603},
		{types.Vec3{1, 0, 0}, 2, 2, 0.546274},
		{types.Vec3{0, 1, 0}, 1, -1, -0.488603},
		{types.Vec3{0, 1, 0}, 2, 2, -0.546274},
		{types.Vec3{0, 1, 0}, 2, 0, -0.315392},
	}
	for index, spec := range specs {
		basis := Basis(spec.dir)
		if got := basis[Index(spec.l, spec.m)]; !approx(got, spec.exp, 1e-5) {
			t.Fatalf("[spec %d] expected Y(%d, %d) to be %f; got %f", index, spec.l, spec.m, spec.exp, got)
		}
	}
}

func TestProjectConstant(t *testing.T) {
	c := ProjectEnvironment(scene.NewUniformEnvironment(128, 64, types.Splat3(1)))

	exp := float32(0.282095 * 4 * math.Pi)
	if !approx(c[0][0], exp, 0.01*exp) {
		t.Fatalf("expected DC coefficient %f; got %f", exp, c[0][0])
	}
	for i := 1; i < NumCoefficients; i++ {
		if !approx(c[i][0], 0, 0.02) {
			t.Fatalf("expected coefficient %d to vanish; got %f", i, c[i][0])
		}
	}

	for _, dir := range []types.Vec3{{0, 0, 1}, {1, 0, 0}, types.XYZ(0.3, -0.5, 0.2).Normalize()} {
		if got := c.Evaluate(dir); !approx(got[1], 1, 0.02) {
			t.Fatalf("expected reconstructed radiance 1 in %v; got %f", dir, got[1])
		}
		irr := c.Irradiance()
		if got := irr.Evaluate(dir); !approx(got[2], math.Pi, 0.03) {
			t.Fatalf("expected irradiance pi in %v; got %f", dir, got[2])
		}
	}
}

func TestProjectLinear(t *testing.T) {
	const w, h = 128, 64
	texels := make([]types.Vec3, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dir := scene.LatLongDirection((float32(x)+0.5)/w, (float32(y)+0.5)/h)
			texels[y*w+x] = types.Splat3(dir[2])
		}
	}
	c := Project(w, h, texels)

	exp := float32(0.488603 * 4 * math.Pi / 3)
	if got := c[Index(1, 0)][0]; !approx(got, exp, 0.01*exp) {
		t.Fatalf("expected Y(1, 0) coefficient %f; got %f", exp, got)
	}

	out := c.ReconstructLatLong(w, h)
	for i := 0; i < len(out); i += 97 {
		if !approx(out[i][0], texels[i][0], 0.02) {
			t.Fatalf("texel %d: expected reconstructed value %f; got %f", i, texels[i][0], out[i][0])
		}
	}
}

func TestAddAndScale(t *testing.T) {
	var a, b Coefficients
	a[0] = types.Splat3(1)
	b[0] = types.Splat3(2)
	b[4] = types.XYZ(1, 2, 3)

	sum := a.Add(b).Scale(2)
	if sum[0] != types.Splat3(6) || sum[4] != types.XYZ(2, 4, 6) {
		t.Fatalf("unexpected result %v", sum)
	}
	if a[0] != types.Splat3(1) {
		t.Fatal("expected Add to leave its receiver untouched")
	}
}
