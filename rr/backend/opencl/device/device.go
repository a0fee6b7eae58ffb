// Package device wraps the opencl platform, device, buffer and kernel
// objects used by the opencl backend.
package device

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/gopencl/v1.2/cl"
)

type DeviceType uint8

// Supported device types.
const (
	CpuDevice   DeviceType = 1 << iota
	GpuDevice              = 1 << iota
	OtherDevice            = 1 << iota
	AllDevices             = 0xFF
)

func (dt DeviceType) String() string {
	switch dt {
	case CpuDevice:
		return "CPU"
	case GpuDevice:
		return "GPU"
	}
	return "Other"
}

// Wrapper around opencl-supported devices.
type Device struct {
	Name     string
	Vendor   string
	Version  string
	Platform string
	Id       cl.DeviceId
	Type     DeviceType

	ComputeUnits uint32
	ClockSpeed   uint32
	GlobalMem    uint64

	// Speed estimate in GFlops.
	Speed uint32

	// Opencl handles; allocated when device is initialized.
	ctx      *cl.Context
	cmdQueue cl.CommandQueue
	program  cl.Program
}

// Implements Stringer.
func (d *Device) String() string {
	return fmt.Sprintf(
		"%s (%s, %d computation units, %d Mhz clock, %d GFlops approximate speed)",
		d.Name,
		d.Type.String(),
		d.ComputeUnits,
		d.ClockSpeed,
		d.Speed,
	)
}

// Initialize the device context and queue and build the program source.
func (d *Device) Init(source, buildOptions string) error {
	var errCode cl.ErrorCode

	// Already initialized
	if d.ctx != nil {
		return nil
	}

	d.ctx = cl.CreateContext(nil, 1, &d.Id, nil, nil, (*int32)(&errCode))
	if errCode != cl.SUCCESS {
		defer d.Close()
		return clError(d.Name, "could not create opencl context", errCode)
	}

	d.cmdQueue = cl.CreateCommandQueue(*d.ctx, d.Id, 0, (*int32)(&errCode))
	if errCode != cl.SUCCESS {
		defer d.Close()
		return clError(d.Name, "could not create command queue", errCode)
	}

	progSrc := cl.Str(source + "\x00")
	d.program = cl.CreateProgramWithSource(
		*d.ctx,
		1,
		&progSrc,
		nil,
		(*int32)(&errCode),
	)
	if errCode != cl.SUCCESS {
		defer d.Close()
		return clError(d.Name, "could not create program", errCode)
	}

	errCode = cl.BuildProgram(
		d.program,
		1,
		&d.Id,
		cl.Str(buildOptions+"\x00"),
		nil,
		nil,
	)
	if errCode != cl.SUCCESS {
		var dataLen uint64
		data := make([]byte, 120000)

		cl.GetProgramBuildInfo(d.program, d.Id, cl.PROGRAM_BUILD_LOG, uint64(len(data)), unsafe.Pointer(&data[0]), &dataLen)
		defer d.Close()
		buildLog := ""
		if dataLen > 0 {
			buildLog = string(data[0 : dataLen-1])
		}
		return fmt.Errorf("%w:\n%s", clError(d.Name, "could not build program", errCode), buildLog)
	}

	return nil
}

// Initialized reports whether Init completed.
func (d *Device) Initialized() bool {
	return d.program != nil
}

// Shut down the device.
func (d *Device) Close() {
	if d.program != nil {
		cl.ReleaseProgram(d.program)
		d.program = nil
	}

	if d.cmdQueue != nil {
		cl.ReleaseCommandQueue(d.cmdQueue)
		d.cmdQueue = nil
	}

	if d.ctx != nil {
		cl.ReleaseContext(d.ctx)
		d.ctx = nil
	}
}

// Queue returns the device command queue.
func (d *Device) Queue() cl.CommandQueue {
	return d.cmdQueue
}

// Finish blocks until all commands enqueued on queue complete. A nil queue
// selects the device queue.
func (d *Device) Finish(queue cl.CommandQueue) error {
	if queue == nil {
		queue = d.cmdQueue
	}
	if errCode := cl.Finish(queue); errCode != cl.SUCCESS {
		return clError(d.Name, "could not finish command queue", errCode)
	}
	return nil
}

// Load kernel by name.
func (d *Device) Kernel(name string) (*Kernel, error) {
	if d.program == nil {
		return nil, ErrNotInitialized
	}

	var errCode cl.ErrorCode
	kernelHandle := cl.CreateKernel(
		d.program,
		cl.Str(name+"\x00"),
		(*int32)(&errCode),
	)
	if errCode != cl.SUCCESS {
		return nil, clError(d.Name, "could not load kernel "+name, errCode)
	}

	return &Kernel{
		device:       d,
		kernelHandle: kernelHandle,
		name:         name,
	}, nil
}

// Create an empty buffer.
func (d *Device) Buffer(name string) *Buffer {
	return &Buffer{
		device: d,
		name:   name,
	}
}

// Query device capabilities and estimate its speed as compute units * clock
// speed.
func (d *Device) detectSpeed() error {
	errCode := cl.GetDeviceInfo(d.Id, cl.DEVICE_MAX_COMPUTE_UNITS, 4, unsafe.Pointer(&d.ComputeUnits), nil)
	if errCode != cl.SUCCESS {
		return clError(d.Name, "could not query MAX_COMPUTE_UNITS", errCode)
	}
	errCode = cl.GetDeviceInfo(d.Id, cl.DEVICE_MAX_CLOCK_FREQUENCY, 4, unsafe.Pointer(&d.ClockSpeed), nil)
	if errCode != cl.SUCCESS {
		return clError(d.Name, "could not query MAX_CLOCK_FREQUENCY", errCode)
	}
	errCode = cl.GetDeviceInfo(d.Id, cl.DEVICE_GLOBAL_MEM_SIZE, 8, unsafe.Pointer(&d.GlobalMem), nil)
	if errCode != cl.SUCCESS {
		return clError(d.Name, "could not query GLOBAL_MEM_SIZE", errCode)
	}
	d.Speed = d.ComputeUnits * d.ClockSpeed / 1000

	return nil
}
