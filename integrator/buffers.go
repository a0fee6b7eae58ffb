package integrator

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/rr/backend"
)

// A named rr device buffer owned by the renderer.
type buffer struct {
	name string
	ptr  rr.DevicePtr
	size uint64
}

func (b *buffer) String() string {
	return fmt.Sprintf("%s (%d bytes)", b.name, b.size)
}

func sizeof[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

// Allocate a device buffer of at least size bytes.
func (r *Renderer) allocate(name string, size uint64) (*buffer, error) {
	size = max(size, 4)
	ptr, err := rr.AllocateDeviceBuffer(r.ctx, size)
	if err != nil {
		return nil, fmt.Errorf("integrator: allocating %s (%d bytes): %w", name, size, err)
	}

	b := &buffer{name: name, ptr: ptr, size: size}
	r.buffers[b] = struct{}{}
	return b, nil
}

// Release a buffer allocated by the renderer. Releasing nil is a no-op.
func (r *Renderer) release(b *buffer) {
	if b == nil {
		return
	}
	if _, owned := r.buffers[b]; !owned {
		return
	}
	delete(r.buffers, b)
	if err := rr.ReleaseDevicePtr(r.ctx, b.ptr); err != nil {
		logger.Warningf("failed to release %s: %v", b, err)
	}
}

// Map a buffer, let fn modify its contents and publish them to the device.
// Must not be called while a submission that uses the buffer is in flight.
func (r *Renderer) hostWrite(b *buffer, fn func(mem []byte)) error {
	mem, err := rr.MapDevicePtr(r.ctx, b.ptr)
	if err != nil {
		return fmt.Errorf("integrator: mapping %s: %w", b.name, err)
	}
	fn(mem)
	if err = rr.UnmapDevicePtr(r.ctx, b.ptr, mem); err != nil {
		return fmt.Errorf("integrator: unmapping %s: %w", b.name, err)
	}
	return nil
}

// Allocate a buffer and fill it with data.
func upload[T any](r *Renderer, name string, data []T) (*buffer, error) {
	raw := backend.Bytes(data)
	b, err := r.allocate(name, uint64(len(raw)))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err = r.hostWrite(b, func(mem []byte) { copy(mem, raw) }); err != nil {
		r.release(b)
		return nil, err
	}
	return b, nil
}

// Copy the buffer contents back to host memory.
func download[T any](r *Renderer, b *buffer) ([]T, error) {
	mem, err := rr.MapDevicePtr(r.ctx, b.ptr)
	if err != nil {
		return nil, fmt.Errorf("integrator: mapping %s: %w", b.name, err)
	}
	return append([]T(nil), backend.View[T](mem)...), nil
}

// A set of buffer mappings used by one host kernel invocation. Mapping
// errors are sticky; kernels check err once after mapping their inputs.
type hostView struct {
	ctx    rr.Context
	mapped []hostMapping
	err    error
}

type hostMapping struct {
	buf   *buffer
	mem   []byte
	dirty bool
}

func (v *hostView) mapBuffer(b *buffer, dirty bool) []byte {
	if v.err != nil {
		return nil
	}
	for i := range v.mapped {
		if v.mapped[i].buf == b {
			v.mapped[i].dirty = v.mapped[i].dirty || dirty
			return v.mapped[i].mem
		}
	}

	mem, err := rr.MapDevicePtr(v.ctx, b.ptr)
	if err != nil {
		v.err = fmt.Errorf("mapping %s: %w", b.name, err)
		return nil
	}
	v.mapped = append(v.mapped, hostMapping{buf: b, mem: mem, dirty: dirty})
	return mem
}

// Publish every mapping the kernel wrote to. Read only mappings are simply
// dropped.
func (v *hostView) close() error {
	err := v.err
	for _, m := range v.mapped {
		if !m.dirty {
			continue
		}
		if uerr := rr.UnmapDevicePtr(v.ctx, m.buf.ptr, m.mem); uerr != nil && err == nil {
			err = fmt.Errorf("unmapping %s: %w", m.buf.name, uerr)
		}
	}
	v.mapped = nil
	return err
}

// Read only typed view of a buffer.
func view[T any](v *hostView, b *buffer) []T {
	return backend.View[T](v.mapBuffer(b, false))
}

// Writable typed view of a buffer.
func viewRW[T any](v *hostView, b *buffer) []T {
	return backend.View[T](v.mapBuffer(b, true))
}
