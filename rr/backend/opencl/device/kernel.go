package device

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/achilleasa/gopencl/v1.2/cl"
)

// A wrapper around opencl kernelHandles.
type Kernel struct {
	device       *Device
	kernelHandle cl.Kernel
	name         string

	globalWorkSizes [1]uint64
	localWorkSizes  [1]uint64
}

// Free any allocated resources used by this kernel.
func (k *Kernel) Release() {
	if k.kernelHandle != nil {
		cl.ReleaseKernel(k.kernelHandle)
		k.kernelHandle = nil
	}
}

// Bind arguments to kernelHandle.
func (k *Kernel) SetArgs(args ...interface{}) error {
	var errCode cl.ErrorCode
	for argIndex, arg := range args {
		// Each case needs an addressable copy of the value.
		switch v := arg.(type) {
		case *Buffer:
			bufHandle := v.Handle()
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 8, unsafe.Pointer(&bufHandle))
		case cl.Mem:
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 8, unsafe.Pointer(&v))
		case int32:
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 4, unsafe.Pointer(&v))
		case uint32:
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 4, unsafe.Pointer(&v))
		case uint64:
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 8, unsafe.Pointer(&v))
		case float32:
			errCode = cl.SetKernelArg(k.kernelHandle, uint32(argIndex), 4, unsafe.Pointer(&v))
		default:
			return fmt.Errorf(
				"opencl device (%s): could not set arg %d for kernel %s; unsupported arg type: %T",
				k.device.Name,
				argIndex,
				k.name,
				arg,
			)
		}

		if errCode != cl.SUCCESS {
			return clError(k.device.Name, fmt.Sprintf("could not set arg %d for kernel %s", argIndex, k.name), errCode)
		}
	}

	return nil
}

// Execute 1D kernel and wait for it to complete. If localWorkSize is equal
// to 0 then the opencl implementation will pick the optimal worksize split
// for the underlying hardware.
func (k *Kernel) Exec1D(globalWorkSize, localWorkSize int) (time.Duration, error) {
	var localSizePtr *uint64

	k.globalWorkSizes[0] = uint64(globalWorkSize)
	if localWorkSize != 0 {
		// The global size must be a multiple of the local size.
		k.globalWorkSizes[0] = uint64((globalWorkSize + localWorkSize - 1) / localWorkSize * localWorkSize)
		k.localWorkSizes[0] = uint64(localWorkSize)
		localSizePtr = &k.localWorkSizes[0]
	}

	tick := time.Now()
	errCode := cl.EnqueueNDRangeKernel(
		k.device.cmdQueue,
		k.kernelHandle,
		1,
		nil,
		&k.globalWorkSizes[0],
		localSizePtr,
		0,
		nil,
		nil,
	)
	if errCode != cl.SUCCESS {
		return 0, clError(k.device.Name, "unable to execute kernel "+k.name, errCode)
	}

	errCode = cl.Finish(k.device.cmdQueue)
	if errCode != cl.SUCCESS {
		return 0, clError(k.device.Name, "kernel "+k.name+" did not complete successfully", errCode)
	}

	return time.Since(tick), nil
}
