// Package vulkan implements the vulkan backend on top of the wgpu hardware
// abstraction layer. Buffers are carved from a single storage buffer heap,
// acceleration structures are built on the host and ray traversal runs in a
// WGSL compute kernel.
package vulkan

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// DefaultHeapSize is used when the config does not specify a heap size.
const DefaultHeapSize = 256 << 20

const (
	// Work group size of the intersect kernel.
	intersectGroupSize = 64

	// Size of the intersect kernel parameter block.
	paramsSize = 32

	// Storage buffer bindings must start at multiples of this value.
	bindAlignment = 256

	waitTimeout = 30 * time.Second
)

//go:embed intersect.wgsl
var intersectSource string

var (
	// ErrNoAdapter is returned when no vulkan adapter matches the config.
	ErrNoAdapter = errors.New("vulkan: no matching adapter")

	logger = log.New("vulkan")
)

func init() {
	backend.Register(backend.APIVK, "vulkan", func(cfg backend.Config) (backend.Device, backend.Intersector, error) {
		dev, err := Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.Intersector(), nil
	})
}

// An external stream encodes commands into a caller-owned encoder. Bind
// groups and parameter blocks live until the stream is released.
type externalStream struct {
	*backend.CommandList
	encoder    hal.CommandEncoder
	bindGroups []hal.BindGroup
}

// Device is a vulkan device.
type Device struct {
	label string
	info  backend.DeviceInfo

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	heapBuf hal.Buffer
	heap    *backend.Heap

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	// Guards hal submissions and the fence value.
	submitMu   sync.Mutex
	fence      hal.Fence
	fenceValue uint64

	cmdQueue  *backend.Queue
	streams   *backend.Pool[*backend.CommandList]
	transient *backend.TransientPool

	mu     sync.Mutex
	closed bool
}

// Open creates an instance, picks an adapter and creates a device on it.
// Discrete and integrated adapters are preferred unless the config device
// filter selects another one.
func Open(cfg backend.Config) (*Device, error) {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vulkan backend not available: %w", ErrNoAdapter)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if cfg.DeviceFilter != "" {
			if strings.Contains(adapters[i].Info.Name, cfg.DeviceFilter) {
				selected = &adapters[i]
				break
			}
			continue
		}
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil && cfg.DeviceFilter == "" && len(adapters) > 0 {
		selected = &adapters[0]
	}
	if selected == nil {
		instance.Destroy()
		return nil, fmt.Errorf("vulkan: filter %q: %w", cfg.DeviceFilter, ErrNoAdapter)
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("vulkan: open device %q: %w", selected.Info.Name, err)
	}

	devType := "Other"
	switch selected.Info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU:
		devType = "GPU"
	}

	d, err := NewDevice(openDev.Device, openDev.Queue, cfg)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.info.Name = selected.Info.Name
	d.info.Type = devType
	logger.Noticef("selected adapter %q", selected.Info.Name)
	return d, nil
}

// NewDevice wraps an already opened hal device and queue. The caller keeps
// ownership of both.
func NewDevice(device hal.Device, queue hal.Queue, cfg backend.Config) (*Device, error) {
	heapSize := cfg.HeapSize
	if heapSize == 0 {
		heapSize = DefaultHeapSize
	}
	heapSize = backend.RoundUp(heapSize, backend.HeapAlignment)

	label := cfg.Label
	if label == "" {
		label = "vulkan"
	}

	d := &Device{
		label:  label,
		device: device,
		queue:  queue,
	}

	var err error
	if d.heapBuf, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_heap",
		Size:  heapSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageUniform | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	}); err != nil {
		return nil, fmt.Errorf("vulkan: create %d byte heap: %v: %w", heapSize, err, backend.ErrOutOfDeviceMemory)
	}
	if d.fence, err = device.CreateFence(); err != nil {
		device.DestroyBuffer(d.heapBuf)
		return nil, fmt.Errorf("vulkan: create fence: %w", err)
	}
	if err = d.createPipeline(); err != nil {
		d.destroyPipeline()
		device.DestroyFence(d.fence)
		device.DestroyBuffer(d.heapBuf)
		return nil, err
	}

	d.cmdQueue = backend.NewQueue(label)
	d.heap = backend.NewHeap(heapSize, d.cmdQueue.Fence())
	d.streams = backend.NewPool(d.cmdQueue.Fence(),
		func() (*backend.CommandList, error) { return backend.NewCommandList(false), nil },
		func(*backend.CommandList) {},
	)
	d.transient = backend.NewTransientPool(d.cmdQueue.Fence(), d.allocate, d.free)
	d.info = backend.DeviceInfo{
		Name:     label,
		Vendor:   "vulkan",
		Version:  "hal",
		Type:     "Other",
		HeapSize: heapSize,
		Features: []string{"wgsl"},
	}

	logger.Infof("created device %q with a %d MiB heap", label, heapSize>>20)
	return d, nil
}

func (d *Device) createPipeline() error {
	var err error
	if d.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "intersect",
		Source: hal.ShaderSource{WGSL: intersectSource},
	}); err != nil {
		return fmt.Errorf("vulkan: create intersect shader: %w", err)
	}

	storage := func(binding uint32, typ gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	if d.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "intersect_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			storage(0, gputypes.BufferBindingTypeUniform),
			storage(1, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(2, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(3, gputypes.BufferBindingTypeStorage),
			storage(4, gputypes.BufferBindingTypeStorage),
			storage(5, gputypes.BufferBindingTypeReadOnlyStorage),
		},
	}); err != nil {
		return fmt.Errorf("vulkan: create bind group layout: %w", err)
	}

	if d.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "intersect_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	}); err != nil {
		return fmt.Errorf("vulkan: create pipeline layout: %w", err)
	}

	if d.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "intersect",
		Layout:  d.pipeLayout,
		Compute: hal.ComputeState{Module: d.shader, EntryPoint: "main"},
	}); err != nil {
		return fmt.Errorf("vulkan: create intersect pipeline: %w", err)
	}
	return nil
}

func (d *Device) destroyPipeline() {
	if d.pipeline != nil {
		d.device.DestroyComputePipeline(d.pipeline)
		d.pipeline = nil
	}
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
	if d.shader != nil {
		d.device.DestroyShaderModule(d.shader)
		d.shader = nil
	}
}

func (d *Device) API() backend.API          { return backend.APIVK }
func (d *Device) Info() backend.DeviceInfo  { return d.info }
func (d *Device) Intersector() *Intersector { return newIntersector(d) }

func (d *Device) allocate(size uint64) (*backend.Allocation, error) {
	off, err := d.heap.Alloc(size)
	if err != nil {
		return nil, err
	}
	return &backend.Allocation{Backend: backend.APIVK, Offset: off, Length: size}, nil
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

// Resolve the hal buffer and byte offset behind an allocation.
func (d *Device) bind(alloc *backend.Allocation) (hal.Buffer, uint64) {
	if alloc.Resident() {
		return d.heapBuf, alloc.Offset
	}
	return alloc.Native.(hal.Buffer), alloc.Offset
}

// Encode commands into a new command buffer, submit it and wait for the
// device to finish executing it.
func (d *Device) submit(label string, encode func(enc hal.CommandEncoder) error) error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("vulkan: create command encoder: %w", err)
	}
	if err = encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("vulkan: begin encoding: %w", err)
	}
	if err = encode(encoder); err != nil {
		return err
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("vulkan: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	d.fenceValue++
	if err = d.queue.Submit([]hal.CommandBuffer{cmdBuf}, d.fence, d.fenceValue); err != nil {
		return fmt.Errorf("vulkan: submit %s: %w", label, err)
	}
	done, err := d.device.Wait(d.fence, d.fenceValue, waitTimeout)
	if err != nil {
		return fmt.Errorf("vulkan: wait for %s: %w", label, err)
	}
	if !done {
		return fmt.Errorf("vulkan: %s did not complete within %s", label, waitTimeout)
	}
	return nil
}

// Copy a buffer range into a staging buffer and read it back.
func (d *Device) read(alloc *backend.Allocation, offset, size uint64) ([]byte, error) {
	if offset+size > alloc.Length {
		return nil, fmt.Errorf("vulkan: read [%d, %d) outside %v: %w", offset, offset+size, alloc, backend.ErrInvalidParameter)
	}
	data := make([]byte, size)
	if size == 0 {
		return data, nil
	}

	// Copies operate on whole words.
	copySize := backend.RoundUp(size, 4)
	buf, base := d.bind(alloc)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.label + "_staging",
		Size:  copySize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create staging buffer: %v: %w", err, backend.ErrOutOfDeviceMemory)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit("readback", func(enc hal.CommandEncoder) error {
		enc.CopyBufferToBuffer(buf, staging, []hal.BufferCopy{
			{SrcOffset: base + offset, DstOffset: 0, Size: copySize},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	readback := make([]byte, copySize)
	if err = d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return nil, fmt.Errorf("vulkan: readback: %w", err)
	}
	copy(data, readback)
	return data, nil
}

func (d *Device) write(alloc *backend.Allocation, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > alloc.Length {
		return fmt.Errorf("vulkan: write [%d, %d) outside %v: %w", offset, offset+uint64(len(data)), alloc, backend.ErrInvalidParameter)
	}
	if len(data) == 0 {
		return nil
	}
	if pad := backend.RoundUp(uint64(len(data)), 4) - uint64(len(data)); pad != 0 {
		data = append(append([]byte(nil), data...), make([]byte, pad)...)
	}
	buf, base := d.bind(alloc)
	d.submitMu.Lock()
	d.queue.WriteBuffer(buf, base+offset, data)
	d.submitMu.Unlock()
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
	if err = d.write(alloc, 0, make([]byte, size)); err != nil {
		d.free(alloc)
		return nil, err
	}
	return alloc, nil
}

func (d *Device) ReleaseDevicePtr(ptr backend.DevicePtr) error {
	alloc, err := backend.AsAllocation(ptr, backend.APIVK, 0)
	if err != nil {
		return err
	}
	alloc.MarkReleased()
	if alloc.Resident() {
		d.heap.FreeAfter(alloc.Offset, alloc.Length, d.cmdQueue.Fence().Issued())
	}
	return nil
}

// Map reads the allocation back into host memory.
func (d *Device) Map(ptr backend.DevicePtr) ([]byte, error) {
	alloc, err := backend.AsAllocation(ptr, backend.APIVK, 0)
	if err != nil {
		return nil, err
	}
	return d.read(alloc, 0, alloc.Length)
}

// Unmap uploads a mapping back to the device.
func (d *Device) Unmap(ptr backend.DevicePtr, mapping []byte) error {
	alloc, err := backend.AsAllocation(ptr, backend.APIVK, 0)
	if err != nil {
		return err
	}
	if uint64(len(mapping)) != alloc.Length {
		return fmt.Errorf("vulkan: mapping of %d bytes does not match %v: %w", len(mapping), alloc, backend.ErrInvalidParameter)
	}
	return d.write(alloc, 0, mapping)
}

// ImportBuffer wraps a caller-owned hal.Buffer created on the same device
// with storage and copy usage.
func (d *Device) ImportBuffer(native interface{}, size, offset uint64) (backend.DevicePtr, error) {
	buf, ok := native.(hal.Buffer)
	if !ok {
		return nil, fmt.Errorf("vulkan: cannot import %T as a buffer: %w", native, backend.ErrUnsupportedInterop)
	}
	if buf == nil || size == 0 {
		return nil, fmt.Errorf("vulkan: empty buffer import: %w", backend.ErrInvalidParameter)
	}
	if offset%bindAlignment != 0 || size%4 != 0 {
		return nil, fmt.Errorf("vulkan: import range [%d, %d) must start at a multiple of %d and hold whole words: %w",
			offset, offset+size, bindAlignment, backend.ErrInvalidParameter)
	}
	return &backend.Allocation{Backend: backend.APIVK, Offset: offset, Length: size, Native: buf}, nil
}

// ImportCommandStream wraps a command encoder that the caller has begun.
// Dispatches are encoded immediately; the caller submits the encoder and
// must wait for it before releasing the stream.
func (d *Device) ImportCommandStream(native interface{}) (backend.CommandStream, error) {
	enc, ok := native.(hal.CommandEncoder)
	if !ok {
		return nil, fmt.Errorf("vulkan: cannot import %T as a command stream: %w", native, backend.ErrUnsupportedInterop)
	}
	if enc == nil {
		return nil, fmt.Errorf("vulkan: nil command encoder: %w", backend.ErrInvalidParameter)
	}
	return &externalStream{CommandList: backend.NewCommandList(true), encoder: enc}, nil
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
		return fmt.Errorf("vulkan: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
	}
	list.ClearTemporaries(d.transient, list.Epoch())
	list.Take()
	d.streams.Release(list, list.Epoch())
	return nil
}

func (d *Device) ReleaseExternalCommandStream(cs backend.CommandStream) error {
	ext, ok := cs.(*externalStream)
	if !ok {
		return fmt.Errorf("vulkan: %T is not an external command stream: %w", cs, backend.ErrInvalidParameter)
	}
	for _, bg := range ext.bindGroups {
		d.device.DestroyBindGroup(bg)
	}
	ext.bindGroups = nil
	ext.ClearTemporaries(d.transient, 0)
	return nil
}

func (d *Device) Record(cs backend.CommandStream, label string, cmd backend.Command) error {
	switch s := cs.(type) {
	case *backend.CommandList:
		s.Record(label, cmd)
		return nil
	case *externalStream:
		// Host commands cannot be encoded; run them now.
		if err := cmd(); err != nil {
			return fmt.Errorf("vulkan: command %q: %w", label, err)
		}
		return nil
	}
	return fmt.Errorf("vulkan: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
}

func (d *Device) SubmitCommandStream(cs backend.CommandStream, wait backend.Event) (backend.Event, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	list, ok := cs.(*backend.CommandList)
	if !ok || list == nil {
		return nil, fmt.Errorf("vulkan: command stream %T cannot be submitted: %w", cs, backend.ErrInvalidParameter)
	}

	ev, err := d.cmdQueue.Submit(list.Take(), wait, nil)
	if err != nil {
		return nil, err
	}
	list.SetEpoch(ev.Value())
	list.ClearTemporaries(d.transient, ev.Value())
	return ev, nil
}

func (d *Device) ReleaseEvent(ev backend.Event) error {
	fe, ok := ev.(*backend.FenceEvent)
	if !ok || fe == nil {
		return fmt.Errorf("vulkan: unknown event %T: %w", ev, backend.ErrInvalidParameter)
	}
	fe.Release()
	return nil
}

func (d *Device) WaitEvent(ev backend.Event) error {
	if ev == nil {
		return fmt.Errorf("vulkan: nil event: %w", backend.ErrInvalidParameter)
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

	d.cmdQueue.Close()
	d.transient.Destroy()
	d.streams.Destroy()
	d.destroyPipeline()
	d.device.DestroyFence(d.fence)
	d.device.DestroyBuffer(d.heapBuf)
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
	}
	logger.Infof("closed device %q", d.label)
	return nil
}

// Memory adapter used by the acceleration structure builder.
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
