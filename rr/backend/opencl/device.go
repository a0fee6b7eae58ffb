// Package opencl implements the opencl backend. The device heap is a single
// opencl buffer; acceleration structures are built on the host and uploaded
// while ray traversal runs in an opencl kernel.
package opencl

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/achilleasa/gopencl/v1.2/cl"
	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"github.com/achilleasa/rayforge/rr/backend/opencl/device"
)

// DefaultHeapSize is used when the config does not specify a heap size.
const DefaultHeapSize = 256 << 20

// Work group size of the intersect kernel.
const intersectGroupSize = 64

//go:embed intersect.cl
var intersectSource string

var logger = log.New("opencl")

func init() {
	backend.Register(backend.APICL, "opencl", func(cfg backend.Config) (backend.Device, backend.Intersector, error) {
		dev, err := NewDevice(cfg)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.Intersector(), nil
	})
}

// An external stream wraps a caller-owned command queue.
type externalStream struct {
	*backend.CommandList
	queue cl.CommandQueue
}

// Device is an opencl device.
type Device struct {
	label string
	info  backend.DeviceInfo

	dev     *device.Device
	heapBuf *device.Buffer
	heap    *backend.Heap
	kernel  *device.Kernel

	queue   *backend.Queue
	streams *backend.Pool[*backend.CommandList]

	mu     sync.Mutex
	closed bool
}

// Create a device on the fastest opencl device whose name contains the
// config device filter.
func NewDevice(cfg backend.Config) (*Device, error) {
	candidates, err := device.SelectDevices(device.AllDevices, cfg.DeviceFilter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("opencl: filter %q: %w", cfg.DeviceFilter, device.ErrNoDevices)
	}
	clDev := candidates[0]

	heapSize := cfg.HeapSize
	if heapSize == 0 {
		heapSize = DefaultHeapSize
	}
	heapSize = backend.RoundUp(heapSize, backend.HeapAlignment)

	label := cfg.Label
	if label == "" {
		label = "opencl"
	}

	if err = clDev.Init(intersectSource, "-cl-fast-relaxed-math"); err != nil {
		return nil, err
	}

	d := &Device{
		label: label,
		dev:   clDev,
		queue: backend.NewQueue(label),
	}

	d.heapBuf = clDev.Buffer("heap")
	if err = d.heapBuf.Allocate(heapSize, cl.MEM_READ_WRITE); err != nil {
		d.queue.Close()
		clDev.Close()
		return nil, fmt.Errorf("%v: %w", err, backend.ErrOutOfDeviceMemory)
	}
	if d.kernel, err = clDev.Kernel("Intersect"); err != nil {
		d.heapBuf.Release()
		d.queue.Close()
		clDev.Close()
		return nil, err
	}

	d.heap = backend.NewHeap(heapSize, d.queue.Fence())
	d.streams = backend.NewPool(d.queue.Fence(),
		func() (*backend.CommandList, error) { return backend.NewCommandList(false), nil },
		func(*backend.CommandList) {},
	)
	d.info = backend.DeviceInfo{
		Name:     clDev.Name,
		Vendor:   clDev.Vendor,
		Version:  clDev.Version,
		Type:     clDev.Type.String(),
		Units:    clDev.ComputeUnits,
		HeapSize: heapSize,
		Features: []string{clDev.Platform},
	}

	logger.Noticef("selected device %s", clDev)
	logger.Infof("allocated %d MiB device heap on %q", heapSize>>20, clDev.Name)
	return d, nil
}

func (d *Device) API() backend.API          { return backend.APICL }
func (d *Device) Info() backend.DeviceInfo  { return d.info }
func (d *Device) Intersector() *Intersector { return newIntersector(d) }

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrDeviceClosed
	}
	return nil
}

// Resolve the opencl buffer and byte offset behind an allocation.
func (d *Device) bind(alloc *backend.Allocation) (*device.Buffer, uint64) {
	if alloc.Resident() {
		return d.heapBuf, alloc.Offset
	}
	return alloc.Native.(*device.Buffer), alloc.Offset
}

func (d *Device) read(alloc *backend.Allocation, offset, size uint64) ([]byte, error) {
	if offset+size > alloc.Length {
		return nil, fmt.Errorf("opencl: read [%d, %d) outside %v: %w", offset, offset+size, alloc, backend.ErrInvalidParameter)
	}
	buf, base := d.bind(alloc)
	data := make([]byte, size)
	if err := buf.Read(base+offset, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Device) write(alloc *backend.Allocation, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > alloc.Length {
		return fmt.Errorf("opencl: write [%d, %d) outside %v: %w", offset, offset+uint64(len(data)), alloc, backend.ErrInvalidParameter)
	}
	buf, base := d.bind(alloc)
	return buf.Write(base+offset, data)
}

func (d *Device) AllocateBuffer(size uint64) (backend.DevicePtr, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	off, err := d.heap.Alloc(size)
	if err != nil {
		return nil, err
	}
	alloc := &backend.Allocation{Backend: backend.APICL, Offset: off, Length: size}
	if err = d.write(alloc, 0, make([]byte, size)); err != nil {
		d.heap.Free(off, size)
		return nil, err
	}
	return alloc, nil
}

func (d *Device) ReleaseDevicePtr(ptr backend.DevicePtr) error {
	alloc, err := backend.AsAllocation(ptr, backend.APICL, 0)
	if err != nil {
		return err
	}
	alloc.MarkReleased()
	if alloc.Resident() {
		d.heap.FreeAfter(alloc.Offset, alloc.Length, d.queue.Fence().Issued())
	}
	return nil
}

// Map reads the allocation back into host memory.
func (d *Device) Map(ptr backend.DevicePtr) ([]byte, error) {
	alloc, err := backend.AsAllocation(ptr, backend.APICL, 0)
	if err != nil {
		return nil, err
	}
	return d.read(alloc, 0, alloc.Length)
}

// Unmap writes a mapping back to the device.
func (d *Device) Unmap(ptr backend.DevicePtr, mapping []byte) error {
	alloc, err := backend.AsAllocation(ptr, backend.APICL, 0)
	if err != nil {
		return err
	}
	if uint64(len(mapping)) != alloc.Length {
		return fmt.Errorf("opencl: mapping of %d bytes does not match %v: %w", len(mapping), alloc, backend.ErrInvalidParameter)
	}
	return d.write(alloc, 0, mapping)
}

// ImportBuffer wraps a caller-owned cl.Mem. The caller guarantees that the
// memory object holds at least offset+size bytes.
func (d *Device) ImportBuffer(native interface{}, size, offset uint64) (backend.DevicePtr, error) {
	mem, ok := native.(cl.Mem)
	if !ok {
		return nil, fmt.Errorf("opencl: cannot import %T as a buffer: %w", native, backend.ErrUnsupportedInterop)
	}
	if mem == nil || size == 0 {
		return nil, fmt.Errorf("opencl: empty buffer import: %w", backend.ErrInvalidParameter)
	}
	if offset%4 != 0 {
		return nil, fmt.Errorf("opencl: import offset %d is not 4 byte aligned: %w", offset, backend.ErrInvalidParameter)
	}
	buf := d.dev.Buffer("imported")
	buf.Wrap(mem, offset+size)
	return &backend.Allocation{Backend: backend.APICL, Offset: offset, Length: size, Native: buf}, nil
}

// ImportCommandStream wraps a caller-owned command queue. Commands recorded
// on the stream run immediately after the queue drains.
func (d *Device) ImportCommandStream(native interface{}) (backend.CommandStream, error) {
	queue, ok := native.(cl.CommandQueue)
	if !ok {
		return nil, fmt.Errorf("opencl: cannot import %T as a command stream: %w", native, backend.ErrUnsupportedInterop)
	}
	if queue == nil {
		return nil, fmt.Errorf("opencl: nil command queue: %w", backend.ErrInvalidParameter)
	}
	return &externalStream{CommandList: backend.NewCommandList(true), queue: queue}, nil
}

func (d *Device) AllocateCommandStream() (backend.CommandStream, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	list, err := d.streams.Acquire()
	if err != nil {
		return nil, err
	}
	list.Reset()
	return list, nil
}

func (d *Device) ReleaseCommandStream(cs backend.CommandStream) error {
	list, ok := cs.(*backend.CommandList)
	if !ok || list == nil {
		return fmt.Errorf("opencl: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
	}
	list.Take()
	d.streams.Release(list, list.Epoch())
	return nil
}

func (d *Device) ReleaseExternalCommandStream(cs backend.CommandStream) error {
	if _, ok := cs.(*externalStream); !ok {
		return fmt.Errorf("opencl: %T is not an external command stream: %w", cs, backend.ErrInvalidParameter)
	}
	return nil
}

func (d *Device) Record(cs backend.CommandStream, label string, cmd backend.Command) error {
	switch s := cs.(type) {
	case *backend.CommandList:
		s.Record(label, cmd)
		return nil
	case *externalStream:
		if err := d.dev.Finish(s.queue); err != nil {
			return err
		}
		if err := cmd(); err != nil {
			return fmt.Errorf("opencl: command %q: %w", label, err)
		}
		return nil
	}
	return fmt.Errorf("opencl: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
}

func (d *Device) SubmitCommandStream(cs backend.CommandStream, wait backend.Event) (backend.Event, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	list, ok := cs.(*backend.CommandList)
	if !ok || list == nil {
		return nil, fmt.Errorf("opencl: command stream %T cannot be submitted: %w", cs, backend.ErrInvalidParameter)
	}

	ev, err := d.queue.Submit(list.Take(), wait, nil)
	if err != nil {
		return nil, err
	}
	list.SetEpoch(ev.Value())
	return ev, nil
}

func (d *Device) ReleaseEvent(ev backend.Event) error {
	fe, ok := ev.(*backend.FenceEvent)
	if !ok || fe == nil {
		return fmt.Errorf("opencl: unknown event %T: %w", ev, backend.ErrInvalidParameter)
	}
	fe.Release()
	return nil
}

func (d *Device) WaitEvent(ev backend.Event) error {
	if ev == nil {
		return fmt.Errorf("opencl: nil event: %w", backend.ErrInvalidParameter)
	}
	return ev.Wait()
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.queue.Close()
	d.streams.Destroy()
	d.kernel.Release()
	d.heapBuf.Release()
	d.dev.Close()
	logger.Infof("closed device %q", d.label)
	return nil
}

// IsNoDevice reports whether err was caused by the lack of a matching
// opencl device.
func IsNoDevice(err error) bool {
	return errors.Is(err, device.ErrNoDevices)
}

// Memory adapter used by the acceleration structure builder. Reads return
// host copies of device memory.
type memory struct {
	d *Device
}

var _ accel.Memory = memory{}

func (m memory) Read(alloc *backend.Allocation, offset, size uint64) ([]byte, error) {
	return m.d.read(alloc, offset, size)
}

func (m memory) Write(alloc *backend.Allocation, offset uint64, data []byte) error {
	return m.d.write(alloc, offset, data)
}

// Build scratch memory is only touched by the host builder.
func (m memory) Scratch(alloc *backend.Allocation, size uint64) ([]byte, error) {
	return make([]byte, size), nil
}
