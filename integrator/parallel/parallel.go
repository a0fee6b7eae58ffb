// Package parallel provides the data-parallel building blocks used by the
// wavefront integrator: chunked loops, prefix sums, stream compaction and
// pairwise reductions.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Grain is the default number of elements processed by a single task.
const Grain = 4096

// For splits [0, n) into chunks of grain elements and runs fn over them in
// parallel. Inputs that fit into a single chunk run on the calling goroutine.
func For(n, grain int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	if grain <= 0 {
		grain = Grain
	}
	if n <= grain {
		return fn(0, n)
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < n; start += grain {
		end := min(start+grain, n)
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}

// Each runs fn for every index in [0, n).
func Each(n int, fn func(i int)) {
	_ = For(n, Grain, func(start, end int) error {
		for i := start; i < end; i++ {
			fn(i)
		}
		return nil
	})
}

// ExclusiveScan writes the exclusive prefix sum of in to out and returns the
// total. out may alias in.
func ExclusiveScan(in, out []uint32) uint32 {
	n := len(in)
	if n == 0 {
		return 0
	}

	// Reduce each chunk, scan the chunk totals and then rescan every chunk
	// starting from its offset.
	sums := make([]uint32, (n+Grain-1)/Grain)
	Each(len(sums), func(block int) {
		var acc uint32
		for _, v := range in[block*Grain : min((block+1)*Grain, n)] {
			acc += v
		}
		sums[block] = acc
	})

	var total uint32
	for i, v := range sums {
		sums[i] = total
		total += v
	}

	Each(len(sums), func(block int) {
		acc := sums[block]
		for i := block * Grain; i < min((block+1)*Grain, n); i++ {
			v := in[i]
			out[i] = acc
			acc += v
		}
	})
	return total
}

// Compact copies values[i] for every i with a non-zero predicate[i] into out,
// preserving order, and returns the number of copied values.
func Compact(predicate, values, out []uint32) uint32 {
	offsets := make([]uint32, len(predicate))
	count := ExclusiveScan(predicate, offsets)
	Each(len(predicate), func(i int) {
		if predicate[i] != 0 {
			out[offsets[i]] = values[i]
		}
	})
	return count
}

// Reduce combines items with add using a pairwise tree. It returns the zero
// value for an empty input. items is left untouched.
func Reduce[T any](items []T, add func(a, b T) T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}

	buf := make([]T, len(items))
	copy(buf, items)
	for n := len(buf); n > 1; {
		half := (n + 1) / 2
		Each(n-half, func(i int) {
			buf[i] = add(buf[i], buf[i+half])
		})
		n = half
	}
	return buf[0]
}
