// Package cpu implements a host-only backend. Device memory is a slab of
// host memory, commands run on a dedicated queue goroutine and ray traversal
// is spread over all available cores.
package cpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"golang.org/x/sys/cpu"
)

// DefaultHeapSize is used when the config does not specify a heap size.
const DefaultHeapSize = 256 << 20

var logger = log.New("cpu")

func init() {
	backend.Register(backend.APICPU, "cpu", func(cfg backend.Config) (backend.Device, backend.Intersector, error) {
		dev, err := NewDevice(cfg)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.Intersector(), nil
	})
}

// Device is a host memory device.
type Device struct {
	label string
	info  backend.DeviceInfo

	// The heap slab is kept as uint64 words so that every heap offset
	// is 8 byte aligned.
	slab      []uint64
	heapBytes []byte
	heap      *backend.Heap

	queue     *backend.Queue
	streams   *backend.Pool[*backend.CommandList]
	transient *backend.TransientPool

	mu     sync.Mutex
	closed bool
}

// Create a new CPU device.
func NewDevice(cfg backend.Config) (*Device, error) {
	heapSize := cfg.HeapSize
	if heapSize == 0 {
		heapSize = DefaultHeapSize
	}
	heapSize = backend.RoundUp(heapSize, backend.HeapAlignment)

	label := cfg.Label
	if label == "" {
		label = "cpu"
	}

	d := &Device{
		label: label,
		queue: backend.NewQueue(label),
	}

	d.slab = make([]uint64, heapSize/8)
	d.heapBytes = backend.Bytes(d.slab)
	d.heap = backend.NewHeap(heapSize, d.queue.Fence())
	d.info = deviceInfo(heapSize)

	d.streams = backend.NewPool(d.queue.Fence(),
		func() (*backend.CommandList, error) { return backend.NewCommandList(false), nil },
		func(*backend.CommandList) {},
	)
	d.transient = backend.NewTransientPool(d.queue.Fence(), d.allocate, d.free)

	logger.Infof("created device %q with a %d MiB heap", label, heapSize>>20)
	return d, nil
}

func deviceInfo(heapSize uint64) backend.DeviceInfo {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			has  bool
		}{
			{"sse4.1", cpu.X86.HasSSE41},
			{"sse4.2", cpu.X86.HasSSE42},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.has {
				features = append(features, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "sve")
		}
	}

	return backend.DeviceInfo{
		Name:     fmt.Sprintf("%s host", runtime.GOARCH),
		Vendor:   runtime.GOOS,
		Version:  runtime.Version(),
		Type:     "CPU",
		Units:    uint32(runtime.NumCPU()),
		HeapSize: heapSize,
		Features: features,
	}
}

func (d *Device) API() backend.API          { return backend.APICPU }
func (d *Device) Info() backend.DeviceInfo  { return d.info }
func (d *Device) Intersector() *Intersector { return newIntersector(d) }

func (d *Device) allocate(size uint64) (*backend.Allocation, error) {
	off, err := d.heap.Alloc(size)
	if err != nil {
		return nil, err
	}
	return &backend.Allocation{Backend: backend.APICPU, Offset: off, Length: size}, nil
}

func (d *Device) free(alloc *backend.Allocation) {
	d.heap.Free(alloc.Offset, alloc.Length)
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.ErrDeviceClosed
	}
	return nil
}

func (d *Device) AllocateBuffer(size uint64) (backend.DevicePtr, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	alloc, err := d.allocate(size)
	if err != nil {
		return nil, err
	}
	// Heap ranges may be recycled; clear them like a fresh allocation.
	clear(d.heapBytes[alloc.Offset : alloc.Offset+backend.RoundUp(size, backend.HeapAlignment)])
	return alloc, nil
}

func (d *Device) ReleaseDevicePtr(ptr backend.DevicePtr) error {
	alloc, err := backend.AsAllocation(ptr, backend.APICPU, 0)
	if err != nil {
		return err
	}
	alloc.MarkReleased()
	if alloc.Resident() {
		// Recorded or in-flight commands may still reference the range.
		d.heap.FreeAfter(alloc.Offset, alloc.Length, d.queue.Fence().Issued())
	}
	return nil
}

// Bytes returns the host view of an allocation.
func (d *Device) Bytes(alloc *backend.Allocation) []byte {
	if alloc.Resident() {
		return d.heapBytes[alloc.Offset : alloc.Offset+alloc.Length]
	}
	return alloc.Native.([]byte)[alloc.Offset : alloc.Offset+alloc.Length]
}

// Map returns a view that aliases device memory; writes are immediately
// visible to recorded commands.
func (d *Device) Map(ptr backend.DevicePtr) ([]byte, error) {
	alloc, err := backend.AsAllocation(ptr, backend.APICPU, 0)
	if err != nil {
		return nil, err
	}
	return d.Bytes(alloc), nil
}

func (d *Device) Unmap(ptr backend.DevicePtr, mapping []byte) error {
	_, err := backend.AsAllocation(ptr, backend.APICPU, 0)
	return err
}

// ImportBuffer wraps a caller-owned []byte.
func (d *Device) ImportBuffer(native interface{}, size, offset uint64) (backend.DevicePtr, error) {
	buf, ok := native.([]byte)
	if !ok {
		return nil, fmt.Errorf("cpu: cannot import %T as a buffer: %w", native, backend.ErrUnsupportedInterop)
	}
	if offset+size > uint64(len(buf)) || size == 0 {
		return nil, fmt.Errorf("cpu: range [%d, %d) outside buffer of %d bytes: %w", offset, offset+size, len(buf), backend.ErrInvalidParameter)
	}
	return &backend.Allocation{Backend: backend.APICPU, Offset: offset, Length: size, Native: buf}, nil
}

// The host has no native command queues to import.
func (d *Device) ImportCommandStream(native interface{}) (backend.CommandStream, error) {
	return nil, fmt.Errorf("cpu: cannot import %T as a command stream: %w", native, backend.ErrUnsupportedInterop)
}

func (d *Device) AllocateCommandStream() (backend.CommandStream, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	cl, err := d.streams.Acquire()
	if err != nil {
		return nil, err
	}
	cl.Reset()
	return cl, nil
}

func asCommandList(cs backend.CommandStream) (*backend.CommandList, error) {
	cl, ok := cs.(*backend.CommandList)
	if !ok || cl == nil {
		return nil, fmt.Errorf("cpu: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
	}
	return cl, nil
}

func (d *Device) ReleaseCommandStream(cs backend.CommandStream) error {
	cl, err := asCommandList(cs)
	if err != nil {
		return err
	}
	if cl.External() {
		return fmt.Errorf("cpu: external command stream released as internal: %w", backend.ErrInvalidParameter)
	}
	cl.ClearTemporaries(d.transient, cl.Epoch())
	cl.Take()
	d.streams.Release(cl, cl.Epoch())
	return nil
}

func (d *Device) ReleaseExternalCommandStream(cs backend.CommandStream) error {
	return fmt.Errorf("cpu: no external command streams: %w", backend.ErrInvalidParameter)
}

func (d *Device) Record(cs backend.CommandStream, label string, cmd backend.Command) error {
	cl, err := asCommandList(cs)
	if err != nil {
		return err
	}
	cl.Record(label, cmd)
	return nil
}

func (d *Device) SubmitCommandStream(cs backend.CommandStream, wait backend.Event) (backend.Event, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	cl, err := asCommandList(cs)
	if err != nil {
		return nil, err
	}
	if cl.External() {
		return nil, fmt.Errorf("cpu: external command streams cannot be submitted: %w", backend.ErrInvalidParameter)
	}

	ev, err := d.queue.Submit(cl.Take(), wait, nil)
	if err != nil {
		return nil, err
	}
	cl.SetEpoch(ev.Value())
	cl.ClearTemporaries(d.transient, ev.Value())
	return ev, nil
}

func asFenceEvent(ev backend.Event) (*backend.FenceEvent, error) {
	fe, ok := ev.(*backend.FenceEvent)
	if !ok || fe == nil {
		return nil, fmt.Errorf("cpu: unknown event %T: %w", ev, backend.ErrInvalidParameter)
	}
	return fe, nil
}

func (d *Device) ReleaseEvent(ev backend.Event) error {
	fe, err := asFenceEvent(ev)
	if err != nil {
		return err
	}
	fe.Release()
	return nil
}

func (d *Device) WaitEvent(ev backend.Event) error {
	fe, err := asFenceEvent(ev)
	if err != nil {
		return err
	}
	return fe.Wait()
}

// Transient returns the pool used for short-lived scratch allocations.
func (d *Device) Transient() *backend.TransientPool {
	return d.transient
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
	d.transient.Destroy()
	d.streams.Destroy()
	logger.Infof("closed device %q", d.label)
	return nil
}

// Memory adapter used by the acceleration structure builder.
type memory struct {
	d *Device
}

var _ accel.Memory = memory{}

func (m memory) Read(alloc *backend.Allocation, offset, size uint64) ([]byte, error) {
	if offset+size > alloc.Length {
		return nil, fmt.Errorf("cpu: read [%d, %d) outside %v: %w", offset, offset+size, alloc, backend.ErrInvalidParameter)
	}
	return m.d.Bytes(alloc)[offset : offset+size], nil
}

func (m memory) Write(alloc *backend.Allocation, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > alloc.Length {
		return fmt.Errorf("cpu: write [%d, %d) outside %v: %w", offset, offset+uint64(len(data)), alloc, backend.ErrInvalidParameter)
	}
	copy(m.d.Bytes(alloc)[offset:], data)
	return nil
}

func (m memory) Scratch(alloc *backend.Allocation, size uint64) ([]byte, error) {
	return m.Read(alloc, 0, size)
}
