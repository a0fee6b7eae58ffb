package vulkan

import (
	"encoding/binary"
	"fmt"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Intersector traces rays with the WGSL intersect kernel.
type Intersector struct {
	*accel.Builder
	d *Device
}

func newIntersector(d *Device) *Intersector {
	return &Intersector{
		Builder: accel.NewBuilder(backend.APIVK, memory{d}, d),
		d:       d,
	}
}

// Pack the kernel parameter block. Scene offsets are passed as word indices.
func packParams(args *accel.IntersectArgs) []byte {
	indirect := uint32(0)
	if args.Count != nil {
		indirect = 1
	}
	params := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(params[0:], uint32(args.Scene.Offset/4))
	binary.LittleEndian.PutUint32(params[4:], args.RayCount)
	binary.LittleEndian.PutUint32(params[8:], indirect)
	binary.LittleEndian.PutUint32(params[12:], uint32(args.Query))
	binary.LittleEndian.PutUint32(params[16:], uint32(args.Output))
	return params
}

// Create the bind group for a dispatch whose parameters live in block.
func (in *Intersector) bindGroup(args *accel.IntersectArgs, block *backend.TransientBlock) (hal.BindGroup, error) {
	binding := func(index uint32, alloc *backend.Allocation, size uint64) gputypes.BindGroupEntry {
		buf, off := in.d.bind(alloc)
		return gputypes.BindGroupEntry{
			Binding:  index,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: off, Size: backend.RoundUp(size, 4)},
		}
	}

	// Without an indirect count the kernel never reads binding 5.
	countEntry := gputypes.BindGroupEntry{
		Binding:  5,
		Resource: gputypes.BufferBinding{Buffer: in.d.heapBuf.NativeHandle(), Offset: 0, Size: 4},
	}
	if args.Count != nil {
		countEntry = binding(5, args.Count, 4)
	}

	bg, err := in.d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "intersect_bind_group",
		Layout: in.d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			binding(0, block.Ptr, paramsSize),
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: in.d.heapBuf.NativeHandle(), Offset: 0, Size: in.d.heap.Size()}},
			binding(2, args.Rays, uint64(args.RayCount)*backend.RaySize),
			binding(3, args.Hits, uint64(args.RayCount)*args.Output.RecordSize()),
			binding(4, args.Scratch, in.TraceMemoryRequirements(args.RayCount)),
			countEntry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create intersect bind group: %w", err)
	}
	return bg, nil
}

func (in *Intersector) encode(enc hal.CommandEncoder, bg hal.BindGroup, rayCount uint32) {
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "intersect"})
	pass.SetPipeline(in.d.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch((rayCount+intersectGroupSize-1)/intersectGroupSize, 1, 1)
	pass.End()
}

func (in *Intersector) Intersect(cs backend.CommandStream, scene backend.DevicePtr, query backend.IntersectQuery, rays backend.DevicePtr, rayCount uint32,
	indirectRayCount backend.DevicePtr, output backend.IntersectOutput, hits, scratch backend.DevicePtr) error {

	args, err := in.ResolveIntersect(scene, query, rays, rayCount, indirectRayCount, output, hits, scratch)
	if err != nil {
		return err
	}
	for name, alloc := range map[string]*backend.Allocation{"rays": args.Rays, "hits": args.Hits, "scratch": args.Scratch, "indirect ray count": args.Count} {
		if alloc != nil && alloc.Offset%bindAlignment != 0 {
			return fmt.Errorf("vulkan: %s offset %d is not a multiple of %d: %w", name, alloc.Offset, bindAlignment, backend.ErrInvalidParameter)
		}
	}
	if rayCount == 0 {
		return nil
	}

	block, err := in.d.transient.Acquire(paramsSize)
	if err != nil {
		return err
	}
	params := packParams(args)

	switch s := cs.(type) {
	case *backend.CommandList:
		s.AddTemporary(block)
		s.Record("intersect", func() error {
			if err := in.d.write(block.Ptr, 0, params); err != nil {
				return err
			}
			bg, err := in.bindGroup(args, block)
			if err != nil {
				return err
			}
			defer in.d.device.DestroyBindGroup(bg)

			return in.d.submit("intersect", func(enc hal.CommandEncoder) error {
				in.encode(enc, bg, rayCount)
				return nil
			})
		})
		return nil
	case *externalStream:
		s.AddTemporary(block)
		if err = in.d.write(block.Ptr, 0, params); err != nil {
			return err
		}
		bg, err := in.bindGroup(args, block)
		if err != nil {
			return err
		}
		s.bindGroups = append(s.bindGroups, bg)
		in.encode(s.encoder, bg, rayCount)
		return nil
	}

	in.d.transient.Release(block, 0)
	return fmt.Errorf("vulkan: unknown command stream %T: %w", cs, backend.ErrInvalidParameter)
}
