package cpu

import (
	"encoding/binary"
	"runtime"

	"github.com/achilleasa/rayforge/bvh"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
	"golang.org/x/sync/errgroup"
)

// Rays traced by a single worker task.
const raysPerTask = 4096

// Intersector traces rays on the host.
type Intersector struct {
	*accel.Builder
	d *Device
}

func newIntersector(d *Device) *Intersector {
	return &Intersector{
		Builder: accel.NewBuilder(backend.APICPU, memory{d}, d),
		d:       d,
	}
}

func (in *Intersector) Intersect(cs backend.CommandStream, scene backend.DevicePtr, query backend.IntersectQuery, rays backend.DevicePtr, rayCount uint32,
	indirectRayCount backend.DevicePtr, output backend.IntersectOutput, hits, scratch backend.DevicePtr) error {

	args, err := in.ResolveIntersect(scene, query, rays, rayCount, indirectRayCount, output, hits, scratch)
	if err != nil {
		return err
	}

	return in.d.Record(cs, "intersect", func() error {
		count := rayCount
		if args.Count != nil {
			// The indirect count is capped by the buffer capacity.
			count = min(binary.LittleEndian.Uint32(in.d.Bytes(args.Count)), rayCount)
		}
		if count == 0 {
			return nil
		}

		tracer, err := bvh.NewTracer(in.d.heapBytes, args.Scene.Offset)
		if err != nil {
			return err
		}
		return traceRays(tracer, query, output,
			backend.View[backend.Ray](in.d.Bytes(args.Rays)),
			in.d.Bytes(args.Hits),
			backend.View[int32](in.d.Bytes(args.Scratch)),
			count,
		)
	})
}

// Trace count rays in parallel chunks. Each ray owns a slice of the stack
// memory.
func traceRays(tracer *bvh.Tracer, query backend.IntersectQuery, output backend.IntersectOutput, rays []backend.Ray, hitBytes []byte, stacks []int32, count uint32) error {
	var (
		fullHits []backend.Hit
		instIDs  []uint32
	)
	if output == backend.OutputFullHit {
		fullHits = backend.View[backend.Hit](hitBytes)
	} else {
		instIDs = backend.View[uint32](hitBytes)
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := uint32(0); start < count; start += raysPerTask {
		end := min(start+raysPerTask, count)
		g.Go(func() error {
			for i := start; i < end; i++ {
				stack := stacks[i*bvh.StackSize : (i+1)*bvh.StackSize]
				hit := tracer.Trace(&rays[i], query, stack)
				if fullHits != nil {
					fullHits[i] = hit
				} else {
					instIDs[i] = hit.InstID
				}
			}
			return nil
		})
	}
	return g.Wait()
}
