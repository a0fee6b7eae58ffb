package backend

import (
	"fmt"
	"sort"
	"sync"
)

// HeapAlignment is the alignment of every heap allocation.
const HeapAlignment = 256

type span struct {
	off, size uint64
}

type deferredSpan struct {
	span
	epoch uint64
}

// Heap is a first-fit offset allocator over a single device allocation.
// Freed ranges are coalesced with their neighbors. Ranges freed with
// FreeAfter are only reused once the fence passes their epoch.
type Heap struct {
	mu       sync.Mutex
	size     uint64
	used     uint64
	free     []span
	deferred []deferredSpan
	fence    *Fence
}

// Create a heap covering size bytes. The fence is used to check deferred
// frees; it may be nil if FreeAfter is never used.
func NewHeap(size uint64, fence *Fence) *Heap {
	size = size &^ (HeapAlignment - 1)
	return &Heap{
		size:  size,
		free:  []span{{0, size}},
		fence: fence,
	}
}

// Size returns the heap capacity in bytes.
func (h *Heap) Size() uint64 {
	return h.size
}

// Used returns the number of allocated bytes, including deferred frees.
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Alloc reserves size bytes and returns their offset.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("heap: zero sized allocation: %w", ErrInvalidParameter)
	}
	size = RoundUp(size, HeapAlignment)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.reclaim()
	for i, s := range h.free {
		if s.size < size {
			continue
		}

		off := s.off
		if s.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{s.off + size, s.size - size}
		}
		h.used += size
		return off, nil
	}

	return 0, fmt.Errorf("heap: cannot allocate %d bytes (%d of %d in use): %w", size, h.used, h.size, ErrOutOfDeviceMemory)
}

// Free returns a range to the heap immediately.
func (h *Heap) Free(off, size uint64) {
	size = RoundUp(size, HeapAlignment)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.insert(span{off, size})
}

// FreeAfter returns a range to the heap once the fence reaches epoch. The
// check happens lazily on the next allocation.
func (h *Heap) FreeAfter(off, size, epoch uint64) {
	if h.fence == nil || h.fence.IsComplete(epoch) {
		h.Free(off, size)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deferred = append(h.deferred, deferredSpan{span{off, RoundUp(size, HeapAlignment)}, epoch})
}

// Pending returns the number of deferred frees awaiting their epoch.
func (h *Heap) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.deferred)
}

func (h *Heap) reclaim() {
	if len(h.deferred) == 0 {
		return
	}

	completed := h.fence.Completed()
	kept := h.deferred[:0]
	for _, d := range h.deferred {
		if d.epoch <= completed {
			h.insert(d.span)
			continue
		}
		kept = append(kept, d)
	}
	h.deferred = kept
}

func (h *Heap) insert(s span) {
	h.used -= s.size

	idx := sort.Search(len(h.free), func(i int) bool { return h.free[i].off >= s.off })
	h.free = append(h.free, span{})
	copy(h.free[idx+1:], h.free[idx:])
	h.free[idx] = s

	// Merge with next
	if idx+1 < len(h.free) && h.free[idx].off+h.free[idx].size == h.free[idx+1].off {
		h.free[idx].size += h.free[idx+1].size
		h.free = append(h.free[:idx+1], h.free[idx+2:]...)
	}
	// Merge with previous
	if idx > 0 && h.free[idx-1].off+h.free[idx-1].size == h.free[idx].off {
		h.free[idx-1].size += h.free[idx].size
		h.free = append(h.free[:idx], h.free[idx+1:]...)
	}
}

// RoundUp rounds v up to the next multiple of align. Align must be a power
// of two.
func RoundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
