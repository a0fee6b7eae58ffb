package integrator

import (
	"fmt"

	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

// Path flags.
const (
	pathAlive uint32 = 1 << iota
	pathScattered
	pathKilled
)

// Per pixel path state.
type pathState struct {
	Throughput types.Vec3
	Flags      uint32

	// Distance to the volume scattering event of the current segment.
	ScatterT float32

	// Non-zero while the path travels inside the scene volume.
	InVolume uint32

	_ [2]uint32
}

func (p *pathState) kill() {
	p.Flags = (p.Flags | pathKilled) &^ pathAlive
	p.Throughput = types.Vec3{}
}

// Radiance carried by a shadow ray; added to the pixel if the ray is not
// occluded.
type lightSample struct {
	Radiance types.Vec3
	_        float32
}

type cameraData struct {
	Frustrum scene.Frustrum
	Position types.Vec4
}

// The per frame buffers used by the wavefront pipeline. Every path owns one
// lane; after each bounce the live lanes are compacted to the front of the
// ray buffers.
type workingSet struct {
	numPixels uint32

	// Shadow rays spawned per lane.
	shadowRaysPerLane uint32

	// Ray streams for the current and the next bounce.
	rays [2]*buffer
	hits *buffer

	// Stream compaction.
	predicate *buffer
	iota      *buffer
	compacted *buffer

	// Maps lanes to pixels for the current and the next bounce.
	pixelIndices [2]*buffer

	// hitCount[0] holds the number of live lanes and hitCount[1] the number
	// of shadow rays.
	hitCount [2]*buffer

	shadowRays   *buffer
	shadowHits   *buffer
	lightSamples *buffer

	// Indexed by pixel.
	paths    *buffer
	samplers *buffer
	radiance *buffer

	camera  *buffer
	scratch *buffer
}

func (ws *workingSet) buffers() []*buffer {
	return []*buffer{
		ws.rays[0], ws.rays[1], ws.hits,
		ws.predicate, ws.iota, ws.compacted,
		ws.pixelIndices[0], ws.pixelIndices[1],
		ws.hitCount[0], ws.hitCount[1],
		ws.shadowRays, ws.shadowHits, ws.lightSamples,
		ws.paths, ws.samplers, ws.radiance,
		ws.camera, ws.scratch,
	}
}

func (ws *workingSet) memory() uint64 {
	var total uint64
	for _, b := range ws.buffers() {
		if b != nil {
			total += b.size
		}
	}
	return total
}

func (r *Renderer) releaseWorkingSet() {
	if r.ws == nil {
		return
	}
	for _, b := range r.ws.buffers() {
		r.release(b)
	}
	r.ws = nil
}

// Reallocate the working set for numPixels lanes. No submission may be in
// flight.
func (r *Renderer) resizeWorkingSet(numPixels uint32) error {
	r.releaseWorkingSet()

	n := uint64(numPixels)
	shadowRaysPerLane := 2 * r.opts.LightSamples
	numShadowRays := n * uint64(shadowRaysPerLane)
	ws := &workingSet{
		numPixels:         numPixels,
		shadowRaysPerLane: shadowRaysPerLane,
	}
	r.ws = ws

	scratchSize, err := rr.GetTraceMemoryRequirements(r.ctx, uint32(max(n, numShadowRays)))
	if err != nil {
		r.releaseWorkingSet()
		return fmt.Errorf("integrator: querying trace memory requirements: %w", err)
	}

	allocs := []struct {
		target **buffer
		name   string
		size   uint64
	}{
		{&ws.rays[0], "rays[0]", n * rr.RaySize},
		{&ws.rays[1], "rays[1]", n * rr.RaySize},
		{&ws.hits, "hits", n * rr.HitSize},
		{&ws.predicate, "predicate", n * 4},
		{&ws.iota, "iota", n * 4},
		{&ws.compacted, "compacted indices", n * 4},
		{&ws.pixelIndices[0], "pixel indices[0]", n * 4},
		{&ws.pixelIndices[1], "pixel indices[1]", n * 4},
		{&ws.hitCount[0], "hit count[0]", 4},
		{&ws.hitCount[1], "hit count[1]", 4},
		{&ws.shadowRays, "shadow rays", numShadowRays * rr.RaySize},
		{&ws.shadowHits, "shadow hits", numShadowRays * 4},
		{&ws.lightSamples, "light samples", numShadowRays * sizeof[lightSample]()},
		{&ws.paths, "paths", n * sizeof[pathState]()},
		{&ws.samplers, "samplers", n * sizeof[sampling.Sampler]()},
		{&ws.radiance, "radiance", n * sizeof[types.Vec4]()},
		{&ws.camera, "camera", sizeof[cameraData]()},
		{&ws.scratch, "trace scratch", scratchSize},
	}
	for _, alloc := range allocs {
		if *alloc.target, err = r.allocate(alloc.name, alloc.size); err != nil {
			r.releaseWorkingSet()
			return err
		}
	}

	err = r.hostWrite(ws.iota, func(mem []byte) {
		indices := backend.View[uint32](mem)
		for i := range indices {
			indices[i] = uint32(i)
		}
	})
	if err != nil {
		r.releaseWorkingSet()
		return err
	}

	logger.Infof("allocated working set for %d lanes (%d shadow rays per lane): %d bytes", numPixels, shadowRaysPerLane, ws.memory())
	return nil
}
