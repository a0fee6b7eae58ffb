package sampling

// Hash is a 32 bit integer finalizer with good avalanche behavior.
func Hash(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

// Hash3 combines three values into one hash.
func Hash3(a, b, c uint32) uint32 {
	return Hash(a ^ Hash(b^Hash(c+0x9e3779b9)))
}

// ToFloat maps a 32 bit integer to [0, 1) using its upper 24 bits.
func ToFloat(x uint32) float32 {
	return float32(x>>8) * (1.0 / (1 << 24))
}

// Sampler holds the per-pixel sampling state. Index selects the sample
// within the sequence and Scramble seeds the per-pixel Cranley-Patterson
// rotation.
type Sampler struct {
	Index    uint32
	Scramble uint32
}

// NewSampler returns a sampler for the given pixel and seed.
func NewSampler(pixel, seed uint32) Sampler {
	return Sampler{Scramble: Hash(pixel ^ Hash(seed))}
}

// Sample1D returns the sample value for dim. Dimensions past the Sobol table
// use a hash of the sampler state instead.
func (s Sampler) Sample1D(dim uint32) float32 {
	if dim >= SobolDimensions {
		return ToFloat(Hash3(s.Scramble, s.Index, dim))
	}

	// Both terms are multiples of 2^-24 so the wrap-around is exact.
	v := ToFloat(Sobol(s.Index, dim)) + ToFloat(Hash(s.Scramble+dim*0x68e31da4))
	if v >= 1 {
		v -= 1
	}
	return v
}

// Sample2D returns the samples for dimensions dim and dim+1.
func (s Sampler) Sample2D(dim uint32) (float32, float32) {
	return s.Sample1D(dim), s.Sample1D(dim + 1)
}
