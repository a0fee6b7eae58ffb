package device

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/gopencl/v1.2/cl"
)

// Buffer wraps an opencl memory object.
type Buffer struct {
	// Handle to opencl buffer.
	bufHandle cl.Mem

	// Associated Device.
	device *Device

	// A name for identifying the buffer.
	name string

	// Allocated size.
	size uint64

	// Wrapped buffers are owned by the caller and never released.
	wrapped bool
}

// Get buffer size.
func (b *Buffer) Size() uint64 {
	return b.size
}

// Allocate a buffer with the given size and flags.
func (b *Buffer) Allocate(size uint64, flags cl.MemFlags) error {
	var errCode cl.ErrorCode

	// If the buffer is already allocated release it
	b.Release()

	b.bufHandle = cl.CreateBuffer(
		*b.device.ctx,
		flags,
		cl.MemFlags(size),
		nil,
		(*int32)(&errCode),
	)
	if errCode != cl.SUCCESS {
		b.bufHandle = nil
		return clError(b.device.Name, fmt.Sprintf("could not allocate buffer %s of size %d", b.name, size), errCode)
	}

	b.size = size
	return nil
}

// Wrap a caller-owned memory object of the given size.
func (b *Buffer) Wrap(mem cl.Mem, size uint64) {
	b.Release()
	b.bufHandle = mem
	b.size = size
	b.wrapped = true
}

func (b *Buffer) checkRange(offset, length uint64) error {
	if b.bufHandle == nil {
		return fmt.Errorf("opencl device (%s): buffer %s is not allocated", b.device.Name, b.name)
	}
	if offset+length > b.size {
		return fmt.Errorf("opencl device (%s): range [%d, %d) outside buffer %s of size %d", b.device.Name, offset, offset+length, b.name, b.size)
	}
	return nil
}

// Write copies data to the device buffer at a byte offset. The call blocks
// until the copy completes.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := b.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}

	errCode := cl.EnqueueWriteBuffer(
		b.device.cmdQueue,
		b.bufHandle,
		cl.TRUE,
		offset,
		uint64(len(data)),
		unsafe.Pointer(&data[0]),
		0,
		nil,
		nil,
	)
	if errCode != cl.SUCCESS {
		return clError(b.device.Name, "error copying host data to device buffer "+b.name, errCode)
	}
	return nil
}

// Read copies len(dst) bytes starting at a byte offset from the device
// buffer into dst. The call blocks until the copy completes.
func (b *Buffer) Read(offset uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if err := b.checkRange(offset, uint64(len(dst))); err != nil {
		return err
	}

	errCode := cl.EnqueueReadBuffer(
		b.device.cmdQueue,
		b.bufHandle,
		cl.TRUE,
		offset,
		uint64(len(dst)),
		unsafe.Pointer(&dst[0]),
		0,
		nil,
		nil,
	)
	if errCode != cl.SUCCESS {
		return clError(b.device.Name, "error copying device data from "+b.name+" to host buffer", errCode)
	}
	return nil
}

// Release buffer.
func (b *Buffer) Release() {
	if b.bufHandle != nil && !b.wrapped {
		cl.ReleaseMemObject(b.bufHandle)
	}
	b.bufHandle = nil
	b.wrapped = false
	b.size = 0
}

// Get opencl buffer handle.
func (b *Buffer) Handle() cl.Mem {
	return b.bufHandle
}
