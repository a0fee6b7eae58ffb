package backend

import (
	"errors"
	"testing"
)

func TestHeapAllocFree(t *testing.T) {
	h := NewHeap(4096, nil)

	a, err := h.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Alloc(300)
	if err != nil {
		t.Fatal(err)
	}

	if a%HeapAlignment != 0 || b%HeapAlignment != 0 {
		t.Fatalf("expected aligned offsets; got %d and %d", a, b)
	}
	if b != a+HeapAlignment {
		t.Fatalf("expected second allocation at %d; got %d", a+HeapAlignment, b)
	}
	if exp := uint64(3 * HeapAlignment); h.Used() != exp {
		t.Fatalf("expected %d used bytes; got %d", exp, h.Used())
	}

	h.Free(a, 100)
	h.Free(b, 300)
	if h.Used() != 0 {
		t.Fatalf("expected heap to be empty; got %d used bytes", h.Used())
	}

	// Coalesced free space must satisfy a full-size request
	if _, err = h.Alloc(4096); err != nil {
		t.Fatalf("expected full-size allocation after coalescing; got %v", err)
	}
}

func TestHeapOutOfMemory(t *testing.T) {
	h := NewHeap(1024, nil)
	if _, err := h.Alloc(2048); !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Fatalf("expected ErrOutOfDeviceMemory; got %v", err)
	}
	if _, err := h.Alloc(0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero-sized allocation; got %v", err)
	}
}

func TestHeapDeferredFree(t *testing.T) {
	fence := NewFence()
	h := NewHeap(512, fence)

	off, err := h.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}

	epoch := fence.Issue()
	h.FreeAfter(off, 512, epoch)
	if h.Pending() != 1 {
		t.Fatalf("expected 1 pending free; got %d", h.Pending())
	}

	if _, err = h.Alloc(512); !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Fatalf("expected allocation to fail while the epoch is pending; got %v", err)
	}

	fence.Signal(epoch, nil)
	if _, err = h.Alloc(512); err != nil {
		t.Fatalf("expected allocation to reuse the reclaimed range; got %v", err)
	}
	if h.Pending() != 0 {
		t.Fatalf("expected no pending frees; got %d", h.Pending())
	}
}

func TestRoundUp(t *testing.T) {
	specs := []struct {
		in, align, exp uint64
	}{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 256, 256},
		{513, 256, 768},
	}

	for index, spec := range specs {
		if got := RoundUp(spec.in, spec.align); got != spec.exp {
			t.Errorf("[spec %d] expected RoundUp(%d, %d) to be %d; got %d", index, spec.in, spec.align, spec.exp, got)
		}
	}
}

func TestMemoryLayout(t *testing.T) {
	l := NewMemoryLayout(16)
	hdr := l.Append("header", 20)
	nodes := l.Append("nodes", 64)
	tris := l.Append("triangles", 8)

	if hdr != 0 || nodes != 32 || tris != 96 {
		t.Fatalf("expected offsets 0, 32, 96; got %d, %d, %d", hdr, nodes, tris)
	}
	if l.Size() != 112 {
		t.Fatalf("expected layout size 112; got %d", l.Size())
	}
	if off, ok := l.Offset("nodes"); !ok || off != 32 {
		t.Fatalf("expected named lookup of nodes to return 32; got %d (%t)", off, ok)
	}
	if _, ok := l.Offset("missing"); ok {
		t.Fatal("expected lookup of unknown block to fail")
	}
}
