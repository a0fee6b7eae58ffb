package bxdf

import (
	"math"

	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func sqr(x float32) float32 { return x * x }

func mix(a, b, t float32) float32 { return a*(1-t) + b*t }

func mixVec(a, b types.Vec3, t float32) types.Vec3 {
	return a.Mul(1 - t).Add(b.Mul(t))
}

func schlickWeight(cosTheta float32) float32 {
	m := min(max(1-cosTheta, 0), 1)
	return (m * m) * (m * m) * m
}

// Generalized Trowbridge-Reitz with gamma=1 (clearcoat lobe).
func gtr1(nDotH, a float32) float32 {
	if a >= 1 {
		return invPi
	}
	a2 := a * a
	t := 1 + (a2-1)*nDotH*nDotH
	return (a2 - 1) / (math.Pi * float32(math.Log(float64(a2))) * t)
}

// Anisotropic GTR2 (GGX) distribution; h is expressed in the shading frame.
func gtr2Aniso(h types.Vec3, ax, ay float32) float32 {
	return 1 / (math.Pi * ax * ay * sqr(sqr(h[0]/ax)+sqr(h[1]/ay)+h[2]*h[2]))
}

func smithGGX(nDotV, alphaG float32) float32 {
	a := alphaG * alphaG
	b := nDotV * nDotV
	return 1 / (nDotV + sqrt(a+b-a*b))
}

func smithGGXAniso(v types.Vec3, ax, ay float32) float32 {
	return 1 / (v[2] + sqrt(sqr(v[0]*ax)+sqr(v[1]*ay)+sqr(v[2])))
}

type disneyParams struct {
	ax, ay       float32
	clearcoatA   float32
	specular0    types.Vec3
	sheenColor   types.Vec3
	diffuseProb  float32
	specularProb float32
}

func disneySetup(m *scene.Material) disneyParams {
	aspect := sqrt(1 - m.Anisotropic*0.9)
	r2 := m.Roughness * m.Roughness

	lum := m.BaseColor.Luminance()
	tint := types.Splat3(1)
	if lum > 0 {
		tint = m.BaseColor.Mul(1 / lum)
	}

	p := disneyParams{
		ax:         max(0.001, r2/aspect),
		ay:         max(0.001, r2*aspect),
		clearcoatA: mix(0.1, 0.001, m.ClearcoatGloss),
		specular0:  mixVec(mixVec(types.Splat3(1), tint, m.SpecularTint).Mul(m.Specular*0.08), m.BaseColor, m.Metallic),
		sheenColor: mixVec(types.Splat3(1), tint, m.SheenTint),
	}

	// Lobe selection probabilities for sampling.
	diffuse := 1 - m.Metallic
	clearcoat := 0.25 * m.Clearcoat
	total := diffuse + 1 + clearcoat
	p.diffuseProb = diffuse / total
	p.specularProb = 1 / total
	return p
}

func disneyEvaluate(m *scene.Material, wi, wo types.Vec3) types.Vec3 {
	nDotL, nDotV := wi[2], wo[2]
	if nDotL <= 0 || nDotV <= 0 {
		return types.Vec3{}
	}
	p := disneySetup(m)

	h := wi.Add(wo).Normalize()
	lDotH := wi.Dot(h)
	fl, fv := schlickWeight(nDotL), schlickWeight(nDotV)
	fh := schlickWeight(lDotH)
	fhSpec := fh
	if m.Fresnel == 0 {
		fhSpec = 0
	}

	// Diffuse retro-reflection blended with the Hanrahan-Krueger inspired
	// subsurface approximation.
	fd90 := 0.5 + 2*lDotH*lDotH*m.Roughness
	fd := mix(1, fd90, fl) * mix(1, fd90, fv)
	fss90 := lDotH * lDotH * m.Roughness
	fss := mix(1, fss90, fl) * mix(1, fss90, fv)
	ss := 1.25 * (fss*(1/(nDotL+nDotV)-0.5) + 0.5)

	ds := gtr2Aniso(h, p.ax, p.ay)
	fs := mixVec(p.specular0, types.Splat3(1), fhSpec)
	gs := smithGGXAniso(wi, p.ax, p.ay) * smithGGXAniso(wo, p.ax, p.ay)

	sheen := p.sheenColor.Mul(fh * m.Sheen)

	dr := gtr1(h[2], p.clearcoatA)
	fr := mix(0.04, 1, fhSpec)
	gr := smithGGX(nDotL, 0.25) * smithGGX(nDotV, 0.25)

	diffuse := m.BaseColor.Mul(invPi * mix(fd, ss, m.Subsurface)).Add(sheen).Mul(1 - m.Metallic)
	return diffuse.Add(fs.Mul(gs * ds)).Add(types.Splat3(0.25 * m.Clearcoat * gr * fr * dr))
}

func disneyPdf(m *scene.Material, wi, wo types.Vec3) float32 {
	if wi[2] <= 0 || wo[2] <= 0 {
		return 0
	}
	p := disneySetup(m)
	h := wi.Add(wo).Normalize()
	oDotH := wo.Dot(h)
	if oDotH <= 0 {
		return p.diffuseProb * sampling.CosineHemispherePdf(wi[2])
	}

	specPdf := gtr2Aniso(h, p.ax, p.ay) * h[2] / (4 * oDotH)
	clearPdf := gtr1(h[2], p.clearcoatA) * h[2] / (4 * oDotH)
	clearProb := 1 - p.diffuseProb - p.specularProb
	return p.diffuseProb*sampling.CosineHemispherePdf(wi[2]) + p.specularProb*specPdf + clearProb*clearPdf
}

func disneySample(m *scene.Material, wo types.Vec3, u1, u2 float32) types.Vec3 {
	p := disneySetup(m)

	switch {
	case u1 < p.diffuseProb:
		return sampling.CosineHemisphere(u1/p.diffuseProb, u2)
	case u1 < p.diffuseProb+p.specularProb:
		u := (u1 - p.diffuseProb) / p.specularProb
		sinPhi, cosPhi := math.Sincos(2 * math.Pi * float64(u))
		t := sqrt(u2 / max(1-u2, 1e-6))
		h := types.XYZ(t*p.ax*float32(cosPhi), t*p.ay*float32(sinPhi), 1).Normalize()
		return reflect(wo, h)
	default:
		u := (u1 - p.diffuseProb - p.specularProb) / max(1-p.diffuseProb-p.specularProb, 1e-6)
		a2 := p.clearcoatA * p.clearcoatA
		cosTheta := sqrt((1 - float32(math.Pow(float64(a2), float64(1-u2)))) / (1 - a2))
		sinTheta := sqrt(1 - cosTheta*cosTheta)
		sinPhi, cosPhi := math.Sincos(2 * math.Pi * float64(u))
		h := types.XYZ(sinTheta*float32(cosPhi), sinTheta*float32(sinPhi), cosTheta)
		return reflect(wo, h)
	}
}

func reflect(wo, h types.Vec3) types.Vec3 {
	return h.Mul(2 * wo.Dot(h)).Sub(wo)
}
