package types

import (
	"math"
	"testing"
)

func approxVec3(a, b Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(float64(a[i]-b[i])) > 1e-4 {
			return false
		}
	}
	return true
}

func TestMat3x4Inverse(t *testing.T) {
	rot := QuatFromAxisAngle(XYZ(0, 1, 0), 0.7).Mat3x4()
	m := Translate3x4(XYZ(1, -2, 3)).Mul(rot).Mul(Scale3x4(XYZ(2, 2, 0.5)))

	inv, ok := m.Inverse()
	if !ok {
		t.Fatal("expected transform to be invertible")
	}

	specs := []Vec3{
		XYZ(0, 0, 0),
		XYZ(1, 2, 3),
		XYZ(-5, 0.5, 10),
	}

	for index, p := range specs {
		got := inv.TransformPoint(m.TransformPoint(p))
		if !approxVec3(got, p) {
			t.Fatalf("[spec %d] expected round-trip point to be %v; got %v", index, p, got)
		}
	}
}

func TestMat3x4SingularInverse(t *testing.T) {
	m := Scale3x4(XYZ(1, 0, 1))
	if _, ok := m.Inverse(); ok {
		t.Fatal("expected singular transform inversion to fail")
	}
}

func TestMat3x4Compose(t *testing.T) {
	m := Translate3x4(XYZ(1, 0, 0)).Mul(Scale3x4(Splat3(2)))
	got := m.TransformPoint(XYZ(1, 1, 1))
	exp := XYZ(3, 2, 2)
	if !approxVec3(got, exp) {
		t.Fatalf("expected composed transform to map point to %v; got %v", exp, got)
	}

	if v := m.TransformVector(XYZ(1, 0, 0)); !approxVec3(v, XYZ(2, 0, 0)) {
		t.Fatalf("expected vector transform to ignore translation; got %v", v)
	}
}

func TestOrthoBasis(t *testing.T) {
	specs := []Vec3{
		XYZ(0, 0, 1),
		XYZ(1, 0, 0),
		XYZ(0.3, -0.8, 0.2).Normalize(),
	}

	for index, n := range specs {
		tg, bt := OrthoBasis(n)
		if d := tg.Dot(n); math.Abs(float64(d)) > 1e-5 {
			t.Fatalf("[spec %d] expected tangent to be orthogonal to normal; dot %f", index, d)
		}
		if d := bt.Dot(tg); math.Abs(float64(d)) > 1e-5 {
			t.Fatalf("[spec %d] expected bitangent to be orthogonal to tangent; dot %f", index, d)
		}
		if l := bt.Len(); math.Abs(float64(l-1)) > 1e-4 {
			t.Fatalf("[spec %d] expected unit bitangent; got length %f", index, l)
		}
	}
}
