package rr

import "github.com/achilleasa/rayforge/rr/backend"

// AllocateDeviceBuffer allocates size bytes of device memory.
func AllocateDeviceBuffer(ctx Context, size uint64) (DevicePtr, error) {
	var ptr DevicePtr
	err := withContext("AllocateDeviceBuffer", ctx, func(c *contextState) error {
		if size == 0 {
			return invalidf("zero sized buffer")
		}
		devPtr, err := c.device.AllocateBuffer(size)
		if err != nil {
			return err
		}
		ptr = c.newDevicePtr(devPtr)
		return nil
	})
	return ptr, err
}

// MapDevicePtr returns a host view of a device buffer. Writes to the view
// become visible to the device after UnmapDevicePtr. Maps do not
// synchronize with in-flight submissions.
func MapDevicePtr(ctx Context, ptr DevicePtr) ([]byte, error) {
	var mapping []byte
	err := withContext("MapDevicePtr", ctx, func(c *contextState) error {
		devPtr, err := c.devicePtr(ptr, "ptr")
		if err != nil {
			return err
		}
		mapping, err = c.device.Map(devPtr)
		return err
	})
	return mapping, err
}

// UnmapDevicePtr publishes a mapping obtained from MapDevicePtr.
func UnmapDevicePtr(ctx Context, ptr DevicePtr, mapping []byte) error {
	return withContext("UnmapDevicePtr", ctx, func(c *contextState) error {
		devPtr, err := c.devicePtr(ptr, "ptr")
		if err != nil {
			return err
		}
		if mapping == nil {
			return invalidf("nil mapping")
		}
		return c.device.Unmap(devPtr, mapping)
	})
}

// ReleaseDevicePtr releases a device pointer. Memory allocated through
// AllocateDeviceBuffer is returned to the device once pending submissions
// complete; imported buffers remain owned by the caller.
func ReleaseDevicePtr(ctx Context, ptr DevicePtr) error {
	return withContext("ReleaseDevicePtr", ctx, func(c *contextState) error {
		if ptr == 0 {
			return invalidf("null device pointer")
		}
		value, err := handles.remove(uint64(ptr), kindDevicePtr, uint64(c.handle))
		if err != nil {
			return err
		}
		return c.device.ReleaseDevicePtr(value.(backend.DevicePtr))
	})
}
