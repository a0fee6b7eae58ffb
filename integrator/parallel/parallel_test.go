package parallel

import (
	"errors"
	"sort"
	"testing"
)

func TestExclusiveScan(t *testing.T) {
	specs := []int{0, 1, 7, Grain, Grain + 1, 3*Grain + 17}

	for specIndex, n := range specs {
		in := make([]uint32, n)
		for i := range in {
			in[i] = uint32(i%5) + 1
		}

		out := make([]uint32, n)
		total := ExclusiveScan(in, out)

		var exp uint32
		for i := range in {
			if out[i] != exp {
				t.Fatalf("[spec %d] expected out[%d] to be %d; got %d", specIndex, i, exp, out[i])
			}
			exp += in[i]
		}
		if total != exp {
			t.Fatalf("[spec %d] expected total to be %d; got %d", specIndex, exp, total)
		}
	}
}

func TestExclusiveScanInPlace(t *testing.T) {
	data := []uint32{3, 1, 4, 1, 5}
	if total := ExclusiveScan(data, data); total != 14 {
		t.Fatalf("expected total to be 14; got %d", total)
	}
	exp := []uint32{0, 3, 4, 8, 9}
	for i := range exp {
		if data[i] != exp[i] {
			t.Fatalf("expected data[%d] to be %d; got %d", i, exp[i], data[i])
		}
	}
}

func TestCompactKeepsOrder(t *testing.T) {
	n := 2*Grain + 100
	predicate := make([]uint32, n)
	values := make([]uint32, n)
	var exp []uint32
	for i := range predicate {
		values[i] = uint32(i)
		if i%3 == 0 {
			predicate[i] = 1
			exp = append(exp, uint32(i))
		}
	}

	out := make([]uint32, n)
	count := Compact(predicate, values, out)
	if int(count) != len(exp) {
		t.Fatalf("expected %d compacted values; got %d", len(exp), count)
	}
	for i := range exp {
		if out[i] != exp[i] {
			t.Fatalf("expected out[%d] to be %d; got %d", i, exp[i], out[i])
		}
	}
}

func TestCompactAllAliveIsPermutation(t *testing.T) {
	n := 3*Grain + 5
	predicate := make([]uint32, n)
	values := make([]uint32, n)
	for i := range predicate {
		predicate[i] = 1
		values[i] = uint32(n - 1 - i)
	}

	out := make([]uint32, n)
	if count := Compact(predicate, values, out); int(count) != n {
		t.Fatalf("expected %d compacted values; got %d", n, count)
	}

	sorted := append([]uint32(nil), out...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, v := range sorted {
		if v != uint32(i) {
			t.Fatalf("expected a permutation of [0, %d); value %d is missing or duplicated", n, i)
		}
	}
}

func TestReduce(t *testing.T) {
	specs := []int{0, 1, 2, 3, 1000, Grain*2 + 1}

	for specIndex, n := range specs {
		items := make([]int, n)
		exp := 0
		for i := range items {
			items[i] = i
			exp += i
		}
		if got := Reduce(items, func(a, b int) int { return a + b }); got != exp {
			t.Fatalf("[spec %d] expected sum to be %d; got %d", specIndex, exp, got)
		}
		for i := range items {
			if items[i] != i {
				t.Fatalf("[spec %d] expected input to be left untouched", specIndex)
			}
		}
	}
}

func TestForPropagatesErrors(t *testing.T) {
	errBoom := errors.New("boom")
	err := For(10*Grain, Grain, func(start, end int) error {
		if start == 5*Grain {
			return errBoom
		}
		return nil
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected error %v; got %v", errBoom, err)
	}
}
