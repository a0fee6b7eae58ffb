package device

import (
	"encoding/binary"
	"testing"

	"github.com/achilleasa/gopencl/v1.2/cl"
)

const testProgram = `
__kernel void square(__global const int *in, __global int *out, const uint count) {
	uint i = get_global_id(0);
	if (i < count) {
		out[i] = in[i] * in[i];
	}
}
`

func createCpuTestDevice(t *testing.T) *Device {
	t.Helper()
	devList, err := SelectDevices(CpuDevice, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(devList) == 0 {
		t.Skip("no CPU opencl device available; check that opencl drivers are installed")
	}
	dev := devList[0]
	if err = dev.Init(testProgram, ""); err != nil {
		t.Fatalf("error initializing device '%s': %v", dev.Name, err)
	}
	return dev
}

func TestDeviceInit(t *testing.T) {
	dev := createCpuTestDevice(t)
	defer dev.Close()

	if !dev.Initialized() {
		t.Fatal("expected device to be initialized")
	}
	if dev.Type.String() != "CPU" {
		t.Fatalf("expected device type to be CPU; got %s", dev.Type.String())
	}
	if dev.ComputeUnits == 0 {
		t.Fatal("expected device to report at least one compute unit")
	}
}

func TestKernelErrors(t *testing.T) {
	dev := createCpuTestDevice(t)
	defer dev.Close()

	if _, err := dev.Kernel("foo"); err == nil {
		t.Fatal("expected to get an error while trying to load an unknown kernel")
	}

	kernel, err := dev.Kernel("square")
	if err != nil {
		t.Fatal(err)
	}
	defer kernel.Release()

	if err = kernel.SetArgs("unsupported"); err == nil {
		t.Fatal("expected an error when binding an unsupported argument type")
	}
}

func TestBufferRangeChecks(t *testing.T) {
	dev := createCpuTestDevice(t)
	defer dev.Close()

	buf := dev.Buffer("test")
	defer buf.Release()
	if err := buf.Allocate(128, cl.MEM_READ_WRITE); err != nil {
		t.Fatal(err)
	}
	if buf.Size() != 128 {
		t.Fatalf("expected buffer size to be 128; got %d", buf.Size())
	}

	if err := buf.Write(120, make([]byte, 16)); err == nil {
		t.Fatal("expected an error writing past the end of the buffer")
	}
	if err := buf.Read(0, make([]byte, 256)); err == nil {
		t.Fatal("expected an error reading past the end of the buffer")
	}
}

func TestKernelExec1D(t *testing.T) {
	dev := createCpuTestDevice(t)
	defer dev.Close()

	kernel, err := dev.Kernel("square")
	if err != nil {
		t.Fatal(err)
	}
	defer kernel.Release()

	specs := []struct {
		count     int
		localSize int
	}{
		{32, 0},
		{33, 8},
	}

	for specIndex, spec := range specs {
		dataIn := make([]byte, spec.count*4)
		for i := 0; i < spec.count; i++ {
			binary.LittleEndian.PutUint32(dataIn[i*4:], uint32(i))
		}

		bufIn := dev.Buffer("in")
		if err = bufIn.Allocate(uint64(len(dataIn)), cl.MEM_READ_WRITE); err != nil {
			t.Fatal(err)
		}
		if err = bufIn.Write(0, dataIn); err != nil {
			t.Fatal(err)
		}
		bufOut := dev.Buffer("out")
		if err = bufOut.Allocate(uint64(len(dataIn)), cl.MEM_READ_WRITE); err != nil {
			t.Fatal(err)
		}

		if err = kernel.SetArgs(bufIn, bufOut, uint32(spec.count)); err != nil {
			t.Fatal(err)
		}
		if _, err = kernel.Exec1D(spec.count, spec.localSize); err != nil {
			t.Fatal(err)
		}

		dataOut := make([]byte, len(dataIn))
		if err = bufOut.Read(0, dataOut); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < spec.count; i++ {
			got := binary.LittleEndian.Uint32(dataOut[i*4:])
			if exp := uint32(i * i); got != exp {
				t.Fatalf("[spec %d] expected squared value of %d to be %d; got %d", specIndex, i, exp, got)
			}
		}

		bufIn.Release()
		bufOut.Release()
	}
}
