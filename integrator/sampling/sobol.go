package sampling

// SobolDimensions is the number of dimensions backed by Sobol direction
// numbers. Higher dimensions fall back to the hashed generator.
const SobolDimensions = 16

// Primitive polynomials (degree s, coefficients a) and initial direction
// numbers m for dimensions 2..16 from the Joe-Kuo "new-joe-kuo-6.21201" table.
// Dimension 1 is the van der Corput sequence.
var joeKuo = []struct {
	s, a uint32
	m    []uint32
}{
	{1, 0, []uint32{1}},
	{2, 1, []uint32{1, 3}},
	{3, 1, []uint32{1, 3, 1}},
	{3, 2, []uint32{1, 1, 1}},
	{4, 1, []uint32{1, 1, 3, 3}},
	{4, 4, []uint32{1, 3, 5, 13}},
	{5, 2, []uint32{1, 1, 5, 5, 17}},
	{5, 4, []uint32{1, 1, 5, 5, 5}},
	{5, 7, []uint32{1, 1, 7, 11, 19}},
	{5, 11, []uint32{1, 1, 5, 1, 1}},
	{5, 13, []uint32{1, 1, 1, 3, 11}},
	{5, 14, []uint32{1, 3, 5, 5, 31}},
	{6, 1, []uint32{1, 3, 3, 9, 7, 49}},
	{6, 13, []uint32{1, 1, 1, 15, 21, 21}},
	{6, 16, []uint32{1, 3, 1, 13, 27, 49}},
}

// SobolMatrix holds 32 direction numbers per dimension.
type SobolMatrix [SobolDimensions][32]uint32

var sobolMatrix = newSobolMatrix()

func newSobolMatrix() *SobolMatrix {
	var mat SobolMatrix
	for bit := 0; bit < 32; bit++ {
		mat[0][bit] = 1 << (31 - bit)
	}

	for dim := 1; dim < SobolDimensions; dim++ {
		poly := joeKuo[dim-1]
		v := &mat[dim]
		s := poly.s
		for i := uint32(0); i < s; i++ {
			v[i] = poly.m[i] << (31 - i)
		}
		for i := s; i < 32; i++ {
			v[i] = v[i-s] ^ (v[i-s] >> s)
			for k := uint32(1); k < s; k++ {
				v[i] ^= ((poly.a >> (s - 1 - k)) & 1) * v[i-k]
			}
		}
	}
	return &mat
}

// Matrix returns the direction numbers used by Sobol.
func Matrix() *SobolMatrix {
	return sobolMatrix
}

// Sobol returns the 32 bit Sobol sample for the given index and dimension.
func Sobol(index, dim uint32) uint32 {
	v := &sobolMatrix[dim%SobolDimensions]
	var x uint32
	for bit := 0; index != 0; index >>= 1 {
		if index&1 != 0 {
			x ^= v[bit]
		}
		bit++
	}
	return x
}
