// Package sh projects environment lighting onto real spherical harmonics up
// to band 2 and reconstructs radiance and irradiance from the coefficients.
package sh

import (
	"math"

	"github.com/achilleasa/rayforge/integrator/parallel"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

const (
	// Highest band.
	MaxBand = 2

	// Number of coefficients for bands 0..MaxBand.
	NumCoefficients = (MaxBand + 1) * (MaxBand + 1)
)

// Coefficients holds one RGB coefficient per basis function.
type Coefficients [NumCoefficients]types.Vec3

// Index returns the position of Y(l, m) in a coefficient array.
func Index(l, m int) int {
	return l*l + l + m
}

// Basis evaluates the real SH basis functions for a unit direction. The
// polar axis is +Z.
func Basis(dir types.Vec3) [NumCoefficients]float32 {
	x, y, z := dir[0], dir[1], dir[2]
	return [NumCoefficients]float32{
		0.282095,               // Y(0,0)
		-0.488603 * y,          // Y(1,-1)
		0.488603 * z,           // Y(1,0)
		-0.488603 * x,          // Y(1,1)
		1.092548 * x * y,       // Y(2,-2)
		-1.092548 * y * z,      // Y(2,-1)
		0.315392 * (3*z*z - 1), // Y(2,0)
		-1.092548 * x * z,      // Y(2,1)
		0.546274 * (x*x - y*y), // Y(2,2)
	}
}

// Evaluate reconstructs the value in direction dir.
func (c *Coefficients) Evaluate(dir types.Vec3) types.Vec3 {
	basis := Basis(dir)
	var out types.Vec3
	for i, y := range basis {
		out = out.Add(c[i].Mul(y))
	}
	return out
}

// Add returns the sum of two coefficient sets.
func (c Coefficients) Add(other Coefficients) Coefficients {
	for i := range c {
		c[i] = c[i].Add(other[i])
	}
	return c
}

// Scale multiplies every coefficient by s.
func (c Coefficients) Scale(s float32) Coefficients {
	for i := range c {
		c[i] = c[i].Mul(s)
	}
	return c
}

// Cosine lobe convolution weights per band.
var cosineLobe = [MaxBand + 1]float32{math.Pi, 2 * math.Pi / 3, math.Pi / 4}

// Irradiance convolves radiance coefficients with the clamped cosine lobe.
// Evaluating the result in direction n yields the irradiance arriving at a
// surface with normal n.
func (c Coefficients) Irradiance() Coefficients {
	for l := 0; l <= MaxBand; l++ {
		for m := -l; m <= l; m++ {
			c[Index(l, m)] = c[Index(l, m)].Mul(cosineLobe[l])
		}
	}
	return c
}

// Project computes the coefficients of a w x h lat-long radiance texture.
// Every row is projected in parallel with each texel weighted by its solid
// angle; the row partials are then summed with a pairwise reduction.
func Project(w, h int, texels []types.Vec3) Coefficients {
	rows := make([]Coefficients, h)
	texelArea := float32(2*math.Pi/float64(w)) * float32(math.Pi/float64(h))

	parallel.Each(h, func(y int) {
		var row Coefficients
		v := (float32(y) + 0.5) / float32(h)
		dOmega := texelArea * float32(math.Sin(math.Pi*float64(v)))
		for x := 0; x < w; x++ {
			dir := scene.LatLongDirection((float32(x)+0.5)/float32(w), v)
			basis := Basis(dir)
			radiance := texels[y*w+x].Mul(dOmega)
			for i, b := range basis {
				row[i] = row[i].Add(radiance.Mul(b))
			}
		}
		rows[y] = row
	})

	return parallel.Reduce(rows, Coefficients.Add)
}

// ProjectEnvironment projects a scene environment including its multiplier.
func ProjectEnvironment(env *scene.Environment) Coefficients {
	mul := env.Multiplier
	if mul == 0 {
		mul = 1
	}
	return Project(env.Width, env.Height, env.Texels).Scale(mul)
}

// ReconstructLatLong evaluates the coefficients over a w x h lat-long grid.
func (c *Coefficients) ReconstructLatLong(w, h int) []types.Vec3 {
	out := make([]types.Vec3, w*h)
	parallel.Each(h, func(y int) {
		v := (float32(y) + 0.5) / float32(h)
		for x := 0; x < w; x++ {
			out[y*w+x] = c.Evaluate(scene.LatLongDirection((float32(x)+0.5)/float32(w), v))
		}
	})
	return out
}
