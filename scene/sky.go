package scene

import (
	"math"

	"github.com/achilleasa/rayforge/types"
)

// LatLongDirection maps lat-long texture coordinates to a unit direction. v=0
// is the +Y pole and u wraps around the Y axis starting from -X.
func LatLongDirection(u, v float32) types.Vec3 {
	sinTheta, cosTheta := math.Sincos(float64(v) * math.Pi)
	sinPhi, cosPhi := math.Sincos(float64(u)*2*math.Pi - math.Pi)
	return types.XYZ(float32(sinTheta*cosPhi), float32(cosTheta), float32(sinTheta*sinPhi))
}

// LatLongUV is the inverse of LatLongDirection.
func LatLongUV(dir types.Vec3) (float32, float32) {
	phi := math.Atan2(float64(dir[2]), float64(dir[0]))
	theta := math.Acos(math.Max(-1, math.Min(1, float64(dir[1]))))
	return float32((phi + math.Pi) / (2 * math.Pi)), float32(theta / math.Pi)
}

// SkyParams controls the procedural sky.
type SkyParams struct {
	Zenith  types.Vec3
	Horizon types.Vec3
	Ground  types.Vec3

	// Sun direction (towards the sun), radiance and angular radius in
	// degrees. A zero radiance disables the sun.
	SunDir      types.Vec3
	SunRadiance types.Vec3
	SunRadius   float32
}

// DefaultSky returns a clear afternoon sky.
func DefaultSky() SkyParams {
	return SkyParams{
		Zenith:      types.XYZ(0.25, 0.45, 0.9),
		Horizon:     types.XYZ(0.85, 0.9, 1.0),
		Ground:      types.XYZ(0.3, 0.28, 0.25),
		SunDir:      types.XYZ(0.5, 0.7, 0.4).Normalize(),
		SunRadiance: types.XYZ(400, 380, 340),
		SunRadius:   2,
	}
}

// NewSky bakes the procedural sky into a w x h lat-long environment.
func NewSky(w, h int, params SkyParams) *Environment {
	env := &Environment{Width: w, Height: h, Texels: make([]types.Vec3, w*h), Multiplier: 1}
	cosSun := float32(math.Cos(float64(params.SunRadius) * math.Pi / 180))
	sunDir := params.SunDir.Normalize()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dir := LatLongDirection((float32(x)+0.5)/float32(w), (float32(y)+0.5)/float32(h))

			var c types.Vec3
			if dir[1] >= 0 {
				t := float32(math.Pow(float64(dir[1]), 0.5))
				c = params.Horizon.Lerp(params.Zenith, t)
			} else {
				t := min(-dir[1]*8, 1)
				c = params.Horizon.Lerp(params.Ground, t)
			}
			if !params.SunRadiance.IsZero() && dir.Dot(sunDir) >= cosSun {
				c = params.SunRadiance
			}
			env.Texels[y*w+x] = c
		}
	}
	return env
}

// NewUniformEnvironment creates an environment with constant radiance.
func NewUniformEnvironment(w, h int, radiance types.Vec3) *Environment {
	env := &Environment{Width: w, Height: h, Texels: make([]types.Vec3, w*h), Multiplier: 1}
	for i := range env.Texels {
		env.Texels[i] = radiance
	}
	return env
}
