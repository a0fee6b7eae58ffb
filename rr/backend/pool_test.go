package backend

import (
	"errors"
	"math"
	"testing"
)

func TestTransientPoolEpochReuse(t *testing.T) {
	fence := NewFence()
	heap := NewHeap(1<<16, fence)

	var allocs, releases int
	pool := NewTransientPool(fence,
		func(size uint64) (*Allocation, error) {
			allocs++
			off, err := heap.Alloc(size)
			if err != nil {
				return nil, err
			}
			return &Allocation{Backend: APICPU, Offset: off, Length: size}, nil
		},
		func(a *Allocation) {
			releases++
			heap.Free(a.Offset, a.Length)
		},
	)

	b1, err := pool.Acquire(100)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Ptr.Length != minTransientClass {
		t.Fatalf("expected block of %d bytes; got %d", minTransientClass, b1.Ptr.Length)
	}

	cl := NewCommandList(false)
	cl.AddTemporary(b1)
	epoch := fence.Issue()
	cl.ClearTemporaries(pool, epoch)

	if cl.Temporaries() != 0 || pool.Pooled() != 1 || pool.Live() != 0 {
		t.Fatalf("expected block to move to the pool; temps %d pooled %d live %d", cl.Temporaries(), pool.Pooled(), pool.Live())
	}

	// The epoch has not completed; a new block must be allocated
	b2, err := pool.Acquire(200)
	if err != nil {
		t.Fatal(err)
	}
	if b2 == b1 || allocs != 2 {
		t.Fatalf("expected a fresh allocation while the epoch is pending; allocs %d", allocs)
	}

	fence.Signal(epoch, nil)
	b3, err := pool.Acquire(50)
	if err != nil {
		t.Fatal(err)
	}
	if b3 != b1 || allocs != 2 {
		t.Fatalf("expected the completed block to be reused; allocs %d", allocs)
	}

	// Different size class never matches
	b4, err := pool.Acquire(1000)
	if err != nil {
		t.Fatal(err)
	}
	if b4.Ptr.Length != 1024 {
		t.Fatalf("expected 1024 byte size class; got %d", b4.Ptr.Length)
	}

	pool.Release(b2, 0)
	pool.Release(b3, 0)
	pool.Release(b4, 0)
	pool.Destroy()
	if releases != 3 || heap.Used() != 0 {
		t.Fatalf("expected all blocks to be released; releases %d used %d", releases, heap.Used())
	}
}

func TestTransientPoolRejectsOversizedBlocks(t *testing.T) {
	var allocs int
	pool := NewTransientPool(NewFence(),
		func(size uint64) (*Allocation, error) {
			allocs++
			return nil, ErrOutOfDeviceMemory
		},
		func(*Allocation) {},
	)

	for _, size := range []uint64{1<<63 + 1, math.MaxUint64} {
		if _, err := pool.Acquire(size); !errors.Is(err, ErrOutOfDeviceMemory) {
			t.Fatalf("expected error %v for a %d byte block; got %v", ErrOutOfDeviceMemory, size, err)
		}
	}
	if allocs != 0 {
		t.Fatalf("expected oversized requests to be rejected before allocating; got %d allocations", allocs)
	}

	specs := []struct {
		size uint64
		exp  uint64
	}{
		{0, minTransientClass},
		{minTransientClass + 1, 2 * minTransientClass},
		{1<<62 + 1, 1 << 63},
		{1 << 63, 1 << 63},
	}
	for index, spec := range specs {
		class, ok := sizeClass(spec.size)
		if !ok || class != spec.exp {
			t.Fatalf("[spec %d] expected size class %d for %d bytes; got %d (ok: %t)", index, spec.exp, spec.size, class, ok)
		}
	}
}

func TestObjectPool(t *testing.T) {
	fence := NewFence()

	var created, destroyed int
	pool := NewPool(fence,
		func() (*CommandList, error) {
			created++
			return NewCommandList(false), nil
		},
		func(*CommandList) { destroyed++ },
	)

	a, _ := pool.Acquire()
	epoch := fence.Issue()
	pool.Release(a, epoch)

	b, _ := pool.Acquire()
	if b == a || created != 2 {
		t.Fatalf("expected in-flight object not to be reused; created %d", created)
	}

	fence.Signal(epoch, nil)
	c, _ := pool.Acquire()
	if c != a || created != 2 {
		t.Fatalf("expected completed object to be reused; created %d", created)
	}

	pool.Release(b, 0)
	pool.Release(c, 0)
	pool.Destroy()
	if destroyed != 2 || pool.Len() != 0 {
		t.Fatalf("expected 2 destroyed objects; got %d (pool len %d)", destroyed, pool.Len())
	}
}

func TestViewAndBytes(t *testing.T) {
	rays := []Ray{
		{Origin: [3]float32{1, 2, 3}, MinT: 0, Direction: [3]float32{0, 0, 1}, MaxT: 100},
		{Origin: [3]float32{4, 5, 6}, MinT: 1, Direction: [3]float32{1, 0, 0}, MaxT: 10},
	}

	raw := Bytes(rays)
	if len(raw) != 2*RaySize {
		t.Fatalf("expected %d bytes; got %d", 2*RaySize, len(raw))
	}

	view := View[Ray](raw)
	if len(view) != 2 || view[1].Origin[2] != 6 || view[1].MaxT != 10 {
		t.Fatalf("expected view to alias the ray slice; got %+v", view)
	}

	if View[Hit](raw[:8]) != nil {
		t.Fatal("expected view over a too short buffer to be nil")
	}
}
