package envmap

import "sort"

// Piecewise constant 1D distribution over [0, 1).
type distribution1D struct {
	fn       []float32
	cdf      []float32
	integral float32
}

func newDistribution1D(fn []float32) *distribution1D {
	n := len(fn)
	d := &distribution1D{
		fn:  fn,
		cdf: make([]float32, n+1),
	}
	for i, v := range fn {
		d.cdf[i+1] = d.cdf[i] + v/float32(n)
	}
	d.integral = d.cdf[n]

	// Fall back to a uniform distribution for an all-zero function.
	for i := 1; i <= n; i++ {
		if d.integral == 0 {
			d.cdf[i] = float32(i) / float32(n)
		} else {
			d.cdf[i] /= d.integral
		}
	}
	return d
}

func (d *distribution1D) count() int {
	return len(d.fn)
}

// Map u to a continuous sample. Returns the sample, its pdf and the index of
// the bucket it falls into.
func (d *distribution1D) sample(u float32) (float32, float32, int) {
	n := d.count()
	offset := sort.Search(n, func(i int) bool { return d.cdf[i+1] > u })
	offset = min(offset, n-1)

	du := u - d.cdf[offset]
	if width := d.cdf[offset+1] - d.cdf[offset]; width > 0 {
		du /= width
	}
	return (float32(offset) + du) / float32(n), d.pdf(offset), offset
}

func (d *distribution1D) pdf(offset int) float32 {
	if d.integral == 0 {
		return 1
	}
	return d.fn[offset] / d.integral
}
