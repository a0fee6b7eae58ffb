package backend

import (
	"fmt"
	"sync"
)

// minTransientClass is the smallest transient block size.
const minTransientClass = HeapAlignment

// maxTransientClass is the largest power of two a uint64 holds.
const maxTransientClass = uint64(1) << 63

// TransientBlock is a pooled scratch allocation.
type TransientBlock struct {
	Ptr   *Allocation
	class uint64
	epoch uint64
}

// TransientPool recycles short-lived device allocations. Blocks are grouped
// in power of two size classes. A released block is tagged with the fence
// value of the submission that last used it and is only handed out again
// once that value has been signaled.
type TransientPool struct {
	mu      sync.Mutex
	fence   *Fence
	alloc   func(size uint64) (*Allocation, error)
	release func(*Allocation)
	free    map[uint64][]*TransientBlock
	live    int
}

// Create a transient pool. The alloc and release callbacks create and
// destroy the backing allocations.
func NewTransientPool(fence *Fence, alloc func(size uint64) (*Allocation, error), release func(*Allocation)) *TransientPool {
	return &TransientPool{
		fence:   fence,
		alloc:   alloc,
		release: release,
		free:    make(map[uint64][]*TransientBlock),
	}
}

// Acquire returns a block of at least size bytes.
func (p *TransientPool) Acquire(size uint64) (*TransientBlock, error) {
	class, ok := sizeClass(size)
	if !ok {
		return nil, fmt.Errorf("backend: transient block of %d bytes: %w", size, ErrOutOfDeviceMemory)
	}

	p.mu.Lock()
	completed := p.fence.Completed()
	list := p.free[class]
	for i, b := range list {
		if b.epoch > completed {
			continue
		}
		p.free[class] = append(list[:i], list[i+1:]...)
		p.live++
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	ptr, err := p.alloc(class)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.live++
	p.mu.Unlock()
	return &TransientBlock{Ptr: ptr, class: class}, nil
}

// Release returns a block to the pool. It becomes reusable once the fence
// reaches epoch.
func (p *TransientPool) Release(b *TransientBlock, epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b.epoch = epoch
	p.free[b.class] = append(p.free[b.class], b)
	p.live--
}

// Pooled returns the number of blocks sitting in the free lists.
func (p *TransientPool) Pooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, list := range p.free {
		count += len(list)
	}
	return count
}

// Live returns the number of blocks currently handed out.
func (p *TransientPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Destroy releases every pooled block. Blocks still handed out are not
// tracked by the pool and must be released by their owners.
func (p *TransientPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for class, list := range p.free {
		for _, b := range list {
			p.release(b.Ptr)
		}
		delete(p.free, class)
	}
}

// Round size up to a power of two class. Sizes above the largest
// representable class are rejected.
func sizeClass(size uint64) (uint64, bool) {
	if size > maxTransientClass {
		return 0, false
	}
	class := uint64(minTransientClass)
	for class < size {
		class <<= 1
	}
	return class, true
}
