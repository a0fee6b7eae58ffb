package integrator

type Options struct {
	// Number of path segments traced per frame.
	NumBounces uint32

	// Min bounces before applying russian roulette for path elimination.
	MinBouncesForRR uint32

	// Number of light / BRDF sample pairs per shading point.
	LightSamples uint32

	// Exposure and gamma for tonemapping.
	Exposure float32
	Gamma    float32

	// Seed for the per-pixel sampler scrambling.
	Seed uint32

	// Ignore participating media even if the scene defines a volume.
	DisableVolume bool
}

// DefaultOptions returns the options used when a field is left unset.
func DefaultOptions() Options {
	return Options{
		NumBounces:      5,
		MinBouncesForRR: 3,
		LightSamples:    1,
		Exposure:        1,
		Gamma:           2.2,
	}
}

// Fill unset fields with their defaults.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.NumBounces == 0 {
		o.NumBounces = def.NumBounces
	}
	if o.MinBouncesForRR == 0 {
		o.MinBouncesForRR = def.MinBouncesForRR
	}
	if o.LightSamples == 0 {
		o.LightSamples = def.LightSamples
	}
	if o.Exposure <= 0 {
		o.Exposure = def.Exposure
	}
	if o.Gamma <= 0 {
		o.Gamma = def.Gamma
	}
	return o
}
