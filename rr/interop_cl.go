//go:build !noopencl

package rr

import (
	"github.com/achilleasa/gopencl/v1.2/cl"
)

// GetDevicePtrFromCLMem wraps size bytes of a caller-owned memory object
// starting at offset. The memory object must belong to the opencl context of
// the device selected by ctx.
func GetDevicePtrFromCLMem(ctx Context, mem cl.Mem, size, offset uint64) (DevicePtr, error) {
	var ptr DevicePtr
	err := withContext("GetDevicePtrFromCLMem", ctx, func(c *contextState) error {
		if mem == nil {
			return invalidf("null memory object")
		}
		if size == 0 {
			return invalidf("zero sized buffer range")
		}
		if err := c.requireAPI(APICL); err != nil {
			return err
		}
		var err error
		ptr, err = c.importBuffer(mem, size, offset)
		return err
	})
	return ptr, err
}

// GetCommandStreamFromCLQueue wraps a caller-owned command queue. Commands
// recorded on the stream execute once the queue has drained.
func GetCommandStreamFromCLQueue(ctx Context, queue cl.CommandQueue) (CommandStream, error) {
	var stream CommandStream
	err := withContext("GetCommandStreamFromCLQueue", ctx, func(c *contextState) error {
		if queue == nil {
			return invalidf("null command queue")
		}
		if err := c.requireAPI(APICL); err != nil {
			return err
		}
		var err error
		stream, err = c.importStream(queue)
		return err
	})
	return stream, err
}
