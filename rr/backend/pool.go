package backend

import "sync"

type pooledObject[T any] struct {
	obj   T
	epoch uint64
}

// Pool recycles objects that may still be referenced by in-flight
// submissions. Released objects are tagged with an epoch and handed out
// again only after the fence reaches it.
type Pool[T any] struct {
	mu      sync.Mutex
	fence   *Fence
	create  func() (T, error)
	destroy func(T)
	free    []pooledObject[T]
}

// Create a pool using the supplied create and destroy callbacks.
func NewPool[T any](fence *Fence, create func() (T, error), destroy func(T)) *Pool[T] {
	return &Pool[T]{
		fence:   fence,
		create:  create,
		destroy: destroy,
	}
}

// Acquire returns a recycled object whose epoch has completed or a newly
// created one.
func (p *Pool[T]) Acquire() (T, error) {
	p.mu.Lock()
	completed := p.fence.Completed()
	for i, entry := range p.free {
		if entry.epoch > completed {
			continue
		}
		p.free = append(p.free[:i], p.free[i+1:]...)
		p.mu.Unlock()
		return entry.obj, nil
	}
	p.mu.Unlock()

	return p.create()
}

// Release returns obj to the pool, tagged with epoch.
func (p *Pool[T]) Release(obj T, epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pooledObject[T]{obj: obj, epoch: epoch})
}

// Len returns the number of pooled objects.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Destroy invokes the destroy callback on every pooled object.
func (p *Pool[T]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.free {
		p.destroy(entry.obj)
	}
	p.free = nil
}
