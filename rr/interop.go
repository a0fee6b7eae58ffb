package rr

import (
	"github.com/gogpu/wgpu/hal"
)

// Wrap a caller-owned native buffer range. The native object stays owned by
// the caller and must outlive the returned pointer.
func (c *contextState) importBuffer(native interface{}, size, offset uint64) (DevicePtr, error) {
	ptr, err := c.device.ImportBuffer(native, size, offset)
	if err != nil {
		return 0, err
	}
	return c.newDevicePtr(ptr), nil
}

func (c *contextState) importStream(native interface{}) (CommandStream, error) {
	cs, err := c.device.ImportCommandStream(native)
	if err != nil {
		return 0, err
	}
	return c.newStream(cs), nil
}

// GetDevicePtrFromD3D12Resource wraps an ID3D12Resource. No DX12 backend is
// available in this build so the call only succeeds against a DX context.
func GetDevicePtrFromD3D12Resource(ctx Context, resource uintptr, offset uint64) (DevicePtr, error) {
	var ptr DevicePtr
	err := withContext("GetDevicePtrFromD3D12Resource", ctx, func(c *contextState) error {
		if resource == 0 {
			return invalidf("null resource")
		}
		if err := c.requireAPI(APIDX); err != nil {
			return err
		}
		var err error
		ptr, err = c.importBuffer(resource, 0, offset)
		return err
	})
	return ptr, err
}

// GetCommandStreamFromD3D12CommandList wraps an ID3D12GraphicsCommandList.
func GetCommandStreamFromD3D12CommandList(ctx Context, list uintptr) (CommandStream, error) {
	var stream CommandStream
	err := withContext("GetCommandStreamFromD3D12CommandList", ctx, func(c *contextState) error {
		if list == 0 {
			return invalidf("null command list")
		}
		if err := c.requireAPI(APIDX); err != nil {
			return err
		}
		var err error
		stream, err = c.importStream(list)
		return err
	})
	return stream, err
}

// GetDevicePtrFromVkBuffer wraps size bytes of a caller-owned buffer
// starting at offset. The buffer must come from the device of the context.
func GetDevicePtrFromVkBuffer(ctx Context, buffer hal.Buffer, size, offset uint64) (DevicePtr, error) {
	var ptr DevicePtr
	err := withContext("GetDevicePtrFromVkBuffer", ctx, func(c *contextState) error {
		if buffer == nil {
			return invalidf("null buffer")
		}
		if size == 0 {
			return invalidf("zero sized buffer range")
		}
		if err := c.requireAPI(APIVK); err != nil {
			return err
		}
		var err error
		ptr, err = c.importBuffer(buffer, size, offset)
		return err
	})
	return ptr, err
}

// GetCommandStreamFromVkCommandEncoder wraps a command encoder the caller
// is recording into. Commands recorded on the returned stream are encoded
// immediately; the caller submits the encoder.
func GetCommandStreamFromVkCommandEncoder(ctx Context, encoder hal.CommandEncoder) (CommandStream, error) {
	var stream CommandStream
	err := withContext("GetCommandStreamFromVkCommandEncoder", ctx, func(c *contextState) error {
		if encoder == nil {
			return invalidf("null command encoder")
		}
		if err := c.requireAPI(APIVK); err != nil {
			return err
		}
		var err error
		stream, err = c.importStream(encoder)
		return err
	})
	return stream, err
}

// GetDevicePtrFromHostSlice wraps a host byte slice. Only host contexts can
// address host memory directly.
func GetDevicePtrFromHostSlice(ctx Context, buf []byte) (DevicePtr, error) {
	var ptr DevicePtr
	err := withContext("GetDevicePtrFromHostSlice", ctx, func(c *contextState) error {
		if len(buf) == 0 {
			return invalidf("empty host slice")
		}
		if err := c.requireAPI(APICPU); err != nil {
			return err
		}
		var err error
		ptr, err = c.importBuffer(buf, uint64(len(buf)), 0)
		return err
	})
	return ptr, err
}
