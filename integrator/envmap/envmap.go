// Package envmap implements lat-long environment lighting with importance
// sampling proportional to luminance.
package envmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

var ErrInvalidDimensions = errors.New("envmap: invalid dimensions")

// Map is an importance sampled lat-long environment map.
type Map struct {
	width, height int
	texels        []types.Vec3
	multiplier    float32

	// Per-row distributions over u and the marginal distribution over v.
	conditional []*distribution1D
	marginal    *distribution1D
}

// New creates a map over w x h texels. The texel slice is referenced, not
// copied.
func New(w, h int, texels []types.Vec3, multiplier float32) (*Map, error) {
	if w <= 0 || h <= 0 || len(texels) < w*h {
		return nil, fmt.Errorf("%w: %dx%d with %d texels", ErrInvalidDimensions, w, h, len(texels))
	}

	m := &Map{
		width:       w,
		height:      h,
		texels:      texels,
		multiplier:  multiplier,
		conditional: make([]*distribution1D, h),
	}

	// Weight rows by sin(theta) to account for the stretching of the
	// lat-long parametrization towards the poles.
	rowIntegrals := make([]float32, h)
	for y := 0; y < h; y++ {
		sinTheta := float32(math.Sin(math.Pi * (float64(y) + 0.5) / float64(h)))
		fn := make([]float32, w)
		for x := 0; x < w; x++ {
			fn[x] = texels[y*w+x].Luminance() * sinTheta
		}
		m.conditional[y] = newDistribution1D(fn)
		rowIntegrals[y] = m.conditional[y].integral
	}
	m.marginal = newDistribution1D(rowIntegrals)
	return m, nil
}

// FromEnvironment creates a map from a scene environment.
func FromEnvironment(env *scene.Environment) (*Map, error) {
	return New(env.Width, env.Height, env.Texels, env.Multiplier)
}

func (m *Map) Width() int  { return m.width }
func (m *Map) Height() int { return m.height }

func (m *Map) texel(x, y int) types.Vec3 {
	x %= m.width
	if x < 0 {
		x += m.width
	}
	y = min(max(y, 0), m.height-1)
	return m.texels[y*m.width+x]
}

// Lookup returns the bilinearly filtered radiance arriving from dir.
func (m *Map) Lookup(dir types.Vec3) types.Vec3 {
	u, v := scene.LatLongUV(dir)
	fx := u*float32(m.width) - 0.5
	fy := v*float32(m.height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	top := m.texel(x0, y0).Lerp(m.texel(x0+1, y0), tx)
	bottom := m.texel(x0, y0+1).Lerp(m.texel(x0+1, y0+1), tx)
	return top.Lerp(bottom, ty).Mul(m.multiplier)
}

// Sample picks a direction with probability proportional to the map
// luminance. It returns the direction, the radiance arriving from it and its
// solid angle pdf.
func (m *Map) Sample(u1, u2 float32) (types.Vec3, types.Vec3, float32) {
	v, pdfV, row := m.marginal.sample(u2)
	u, pdfU, _ := m.conditional[row].sample(u1)

	dir := scene.LatLongDirection(u, v)
	sinTheta := float32(math.Sin(math.Pi * float64(v)))
	if sinTheta <= 0 || pdfU*pdfV == 0 {
		return dir, types.Vec3{}, 0
	}
	pdf := pdfU * pdfV / (2 * math.Pi * math.Pi * sinTheta)
	return dir, m.Lookup(dir), pdf
}

// Pdf returns the solid angle density with which Sample picks dir.
func (m *Map) Pdf(dir types.Vec3) float32 {
	u, v := scene.LatLongUV(dir)
	sinTheta := float32(math.Sin(math.Pi * float64(v)))
	if sinTheta <= 0 {
		return 0
	}

	pdfUV := float32(1)
	if m.marginal.integral != 0 {
		x := min(int(u*float32(m.width)), m.width-1)
		y := min(int(v*float32(m.height)), m.height-1)
		pdfUV = m.conditional[y].fn[x] / m.marginal.integral
	}
	return pdfUV / (2 * math.Pi * math.Pi * sinTheta)
}
