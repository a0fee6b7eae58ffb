package backend

import "fmt"

// Allocation is the DevicePtr implementation shared by the backends. It
// either addresses a range of the device heap or wraps a caller-owned native
// buffer.
type Allocation struct {
	Backend API

	// Byte offset into the device heap, or into Native when it is set.
	Offset uint64

	// Number of addressable bytes.
	Length uint64

	// A caller-owned native buffer; nil for heap-resident allocations.
	Native interface{}

	released bool
}

func (a *Allocation) API() API     { return a.Backend }
func (a *Allocation) Size() uint64 { return a.Length }

// Resident reports whether the allocation lives in the device heap.
func (a *Allocation) Resident() bool {
	return a.Native == nil
}

// Released reports whether the allocation was released.
func (a *Allocation) Released() bool {
	return a.released
}

// MarkReleased flags the allocation as released.
func (a *Allocation) MarkReleased() {
	a.released = true
}

func (a *Allocation) String() string {
	if a.Resident() {
		return fmt.Sprintf("%s heap[%d:%d]", a.Backend, a.Offset, a.Offset+a.Length)
	}
	return fmt.Sprintf("%s native(%T)[%d:%d]", a.Backend, a.Native, a.Offset, a.Offset+a.Length)
}

// AsAllocation validates that ptr is a live Allocation created by api and
// that it can hold at least minSize bytes.
func AsAllocation(ptr DevicePtr, api API, minSize uint64) (*Allocation, error) {
	if ptr == nil {
		return nil, fmt.Errorf("nil device pointer: %w", ErrInvalidParameter)
	}
	alloc, ok := ptr.(*Allocation)
	if !ok || alloc.Backend != api {
		return nil, fmt.Errorf("device pointer %v does not belong to the %s backend: %w", ptr, api, ErrInvalidParameter)
	}
	if alloc.released {
		return nil, fmt.Errorf("device pointer %v has been released: %w", alloc, ErrInvalidParameter)
	}
	if alloc.Length < minSize {
		return nil, fmt.Errorf("device pointer %v holds %d bytes; need %d: %w", alloc, alloc.Length, minSize, ErrInvalidParameter)
	}
	return alloc, nil
}
