// Package sampling implements the quasi-Monte Carlo sampler and the
// direction sampling routines shared by the integrator kernels.
package sampling

import (
	"math"

	"github.com/achilleasa/rayforge/types"
)

const (
	invPi  = float32(1 / math.Pi)
	inv2Pi = float32(1 / (2 * math.Pi))
	inv4Pi = float32(1 / (4 * math.Pi))
)

func sincos(phi float32) (float32, float32) {
	s, c := math.Sincos(float64(phi))
	return float32(s), float32(c)
}

func sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(max(v, 0))))
}

// CosineHemisphere maps a 2D sample to a cosine weighted direction around +Z.
func CosineHemisphere(u1, u2 float32) types.Vec3 {
	r := sqrt(u1)
	s, c := sincos(2 * math.Pi * u2)
	return types.Vec3{r * c, r * s, sqrt(1 - u1)}
}

// CosineHemispherePdf returns the solid angle pdf of CosineHemisphere for a
// direction with the given cosine.
func CosineHemispherePdf(cosTheta float32) float32 {
	return max(cosTheta, 0) * invPi
}

// UniformHemisphere maps a 2D sample to a uniformly distributed direction
// around +Z.
func UniformHemisphere(u1, u2 float32) types.Vec3 {
	r := sqrt(1 - u1*u1)
	s, c := sincos(2 * math.Pi * u2)
	return types.Vec3{r * c, r * s, u1}
}

// UniformHemispherePdf is the solid angle pdf of UniformHemisphere.
func UniformHemispherePdf() float32 {
	return inv2Pi
}

// UniformSphere maps a 2D sample to a uniformly distributed direction.
func UniformSphere(u1, u2 float32) types.Vec3 {
	z := 1 - 2*u1
	r := sqrt(1 - z*z)
	s, c := sincos(2 * math.Pi * u2)
	return types.Vec3{r * c, r * s, z}
}

// UniformSpherePdf is the solid angle pdf of UniformSphere.
func UniformSpherePdf() float32 {
	return inv4Pi
}

// ToWorld transforms a direction from the local frame around n to world space.
func ToWorld(n, v types.Vec3) types.Vec3 {
	t, b := types.OrthoBasis(n)
	return t.Mul(v[0]).Add(b.Mul(v[1])).Add(n.Mul(v[2]))
}

// ToLocal transforms a world space direction into the local frame around n.
func ToLocal(n, v types.Vec3) types.Vec3 {
	t, b := types.OrthoBasis(n)
	return types.Vec3{v.Dot(t), v.Dot(b), v.Dot(n)}
}

// PowerHeuristic returns the multiple importance sampling weight of a sample
// drawn nf times from strategy f when strategy g draws ng samples. The
// exponent is 2.
func PowerHeuristic(nf int, fPdf float32, ng int, gPdf float32) float32 {
	f := float32(nf) * fPdf
	g := float32(ng) * gPdf
	if f == 0 && g == 0 {
		return 0
	}
	return (f * f) / (f*f + g*g)
}

// BalanceHeuristic returns the balance heuristic weight for strategy f.
func BalanceHeuristic(nf int, fPdf float32, ng int, gPdf float32) float32 {
	f := float32(nf) * fPdf
	g := float32(ng) * gPdf
	if f == 0 && g == 0 {
		return 0
	}
	return f / (f + g)
}
