package opencl

import (
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/accel"
)

// Intersector traces rays with the opencl intersect kernel.
type Intersector struct {
	*accel.Builder
	d *Device
}

func newIntersector(d *Device) *Intersector {
	return &Intersector{
		Builder: accel.NewBuilder(backend.APICL, memory{d}, d),
		d:       d,
	}
}

func (in *Intersector) Intersect(cs backend.CommandStream, scene backend.DevicePtr, query backend.IntersectQuery, rays backend.DevicePtr, rayCount uint32,
	indirectRayCount backend.DevicePtr, output backend.IntersectOutput, hits, scratch backend.DevicePtr) error {

	args, err := in.ResolveIntersect(scene, query, rays, rayCount, indirectRayCount, output, hits, scratch)
	if err != nil {
		return err
	}
	if rayCount == 0 {
		return nil
	}

	return in.d.Record(cs, "intersect", func() error {
		rayBuf, rayOff := in.d.bind(args.Rays)
		hitBuf, hitOff := in.d.bind(args.Hits)
		stackBuf, stackOff := in.d.bind(args.Scratch)

		// Without an indirect count the kernel ignores the count buffer.
		countBuf, countOff, indirect := in.d.heapBuf, uint64(0), uint32(0)
		if args.Count != nil {
			countBuf, countOff = in.d.bind(args.Count)
			indirect = 1
		}

		err := in.d.kernel.SetArgs(
			in.d.heapBuf,
			args.Scene.Offset,
			rayBuf,
			rayOff,
			hitBuf,
			hitOff,
			stackBuf,
			stackOff,
			countBuf,
			countOff,
			indirect,
			rayCount,
			uint32(query),
			uint32(output),
		)
		if err != nil {
			return err
		}
		elapsed, err := in.d.kernel.Exec1D(int(rayCount), intersectGroupSize)
		if err != nil {
			return err
		}
		logger.Debugf("traced up to %d rays in %s", rayCount, elapsed)
		return nil
	})
}
