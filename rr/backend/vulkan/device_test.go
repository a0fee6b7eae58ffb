package vulkan

import (
	"errors"
	"testing"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"
)

// The noop hal device accepts every call without executing anything, so
// these tests cover resource lifecycles and validation only.
func newNoopDevice(t *testing.T) (*Device, *Intersector) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}

	dev, err := NewDevice(openDev.Device, openDev.Queue, backend.Config{HeapSize: 1 << 20, Label: "noop"})
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		dev.Close()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return dev, dev.Intersector()
}

func TestDeviceInfo(t *testing.T) {
	dev, _ := newNoopDevice(t)
	if dev.API() != backend.APIVK {
		t.Fatalf("expected api to be %s; got %s", backend.APIVK, dev.API())
	}
	if info := dev.Info(); info.HeapSize != 1<<20 || info.Name != "noop" {
		t.Fatalf("unexpected device info %+v", info)
	}
}

func TestAllocateAndRelease(t *testing.T) {
	dev, _ := newNoopDevice(t)

	ptr, err := dev.AllocateBuffer(100)
	if err != nil {
		t.Fatal(err)
	}
	if ptr.Size() != 100 {
		t.Fatalf("expected allocation size 100; got %d", ptr.Size())
	}
	if dev.heap.Used() == 0 {
		t.Fatal("expected heap usage to grow after allocation")
	}
	if err = dev.Unmap(ptr, make([]byte, 10)); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected unmap with a mismatched mapping to fail; got %v", err)
	}
	if err = dev.ReleaseDevicePtr(ptr); err != nil {
		t.Fatal(err)
	}
	if err = dev.ReleaseDevicePtr(ptr); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected double release to fail; got %v", err)
	}

	if _, err = dev.AllocateBuffer(2 << 20); !errors.Is(err, backend.ErrOutOfDeviceMemory) {
		t.Fatalf("expected allocation larger than the heap to fail; got %v", err)
	}
}

func TestImportValidation(t *testing.T) {
	dev, _ := newNoopDevice(t)

	if _, err := dev.ImportBuffer([]byte{1, 2, 3, 4}, 4, 0); !errors.Is(err, backend.ErrUnsupportedInterop) {
		t.Fatalf("expected host slice import to fail; got %v", err)
	}
	if _, err := dev.ImportBuffer(dev.heapBuf, 64, 16); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected misaligned import to fail; got %v", err)
	}
	ptr, err := dev.ImportBuffer(dev.heapBuf, 64, 512)
	if err != nil {
		t.Fatal(err)
	}
	if alloc := ptr.(*backend.Allocation); alloc.Resident() || alloc.Offset != 512 {
		t.Fatalf("expected a non-resident allocation at offset 512; got %v", alloc)
	}
	if _, err = dev.ImportCommandStream("encoder"); !errors.Is(err, backend.ErrUnsupportedInterop) {
		t.Fatalf("expected command stream import to fail; got %v", err)
	}
}

func TestSubmitEmptyStream(t *testing.T) {
	dev, _ := newNoopDevice(t)

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	ev, err := dev.SubmitCommandStream(cs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = dev.WaitEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err = dev.ReleaseEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err = dev.ReleaseCommandStream(cs); err != nil {
		t.Fatal(err)
	}

	if err = dev.ReleaseExternalCommandStream(cs); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected internal stream to be rejected as external; got %v", err)
	}
}

func TestIntersectParamBlocksAreRecycled(t *testing.T) {
	dev, in := newNoopDevice(t)

	scene, _ := dev.AllocateBuffer(256)
	rays, _ := dev.AllocateBuffer(4 * backend.RaySize)
	hits, _ := dev.AllocateBuffer(4 * backend.HitSize)
	scratch, _ := dev.AllocateBuffer(in.TraceMemoryRequirements(4))

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err = in.Intersect(cs, scene, backend.QueryClosest, rays, 4, nil, backend.OutputFullHit, hits, scratch); err != nil {
			t.Fatal(err)
		}
	}
	if got := dev.transient.Live(); got != 2 {
		t.Fatalf("expected 2 live parameter blocks; got %d", got)
	}

	// Releasing an unsubmitted stream returns its blocks to the pool.
	if err = dev.ReleaseCommandStream(cs); err != nil {
		t.Fatal(err)
	}
	if live, pooled := dev.transient.Live(), dev.transient.Pooled(); live != 0 || pooled != 2 {
		t.Fatalf("expected blocks to be pooled; got %d live and %d pooled", live, pooled)
	}
}

func TestIntersectValidation(t *testing.T) {
	dev, in := newNoopDevice(t)

	scene, _ := dev.AllocateBuffer(256)
	rays, _ := dev.AllocateBuffer(4 * backend.RaySize)
	hits, _ := dev.AllocateBuffer(4 * backend.HitSize)
	scratch, _ := dev.AllocateBuffer(in.TraceMemoryRequirements(4))
	cs, _ := dev.AllocateCommandStream()
	defer dev.ReleaseCommandStream(cs)

	if err := in.Intersect(cs, scene, backend.IntersectQuery(7), rays, 4, nil, backend.OutputFullHit, hits, scratch); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected unknown query to fail; got %v", err)
	}
	if err := in.Intersect(cs, scene, backend.QueryAny, rays, 8, nil, backend.OutputFullHit, hits, scratch); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected undersized ray buffer to fail; got %v", err)
	}
	if dev.transient.Live() != 0 {
		t.Fatal("expected failed calls not to acquire parameter blocks")
	}
}

func TestPackParams(t *testing.T) {
	args := &accel.IntersectArgs{
		Scene:    &backend.Allocation{Offset: 1024},
		Count:    &backend.Allocation{},
		RayCount: 9,
		Query:    backend.QueryAny,
		Output:   backend.OutputInstanceID,
	}
	params := backend.View[uint32](packParams(args))
	exp := []uint32{256, 9, 1, 1, 1, 0, 0, 0}
	for i := range exp {
		if params[i] != exp[i] {
			t.Fatalf("expected param word %d to be %d; got %d", i, exp[i], params[i])
		}
	}
}
