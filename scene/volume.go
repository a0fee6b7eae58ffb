package scene

import "github.com/achilleasa/rayforge/types"

// Volume is a homogeneous participating medium with an isotropic phase
// function.
type Volume struct {
	// Absorption and scattering coefficients.
	SigmaA types.Vec3
	SigmaS types.Vec3

	// Emitted radiance per unit length.
	SigmaE types.Vec3
}

// DefaultVolume returns the purple fog used by the fog preset.
func DefaultVolume() *Volume {
	return &Volume{
		SigmaA: types.XYZ(1.2, 0.4, 1.2),
		SigmaS: types.XYZ(5.1, 4.8, 5.1),
	}
}

// Extinction coefficient.
func (v *Volume) SigmaT() types.Vec3 {
	return v.SigmaA.Add(v.SigmaS)
}
