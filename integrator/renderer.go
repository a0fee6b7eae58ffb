// Package integrator implements a wavefront path tracer on top of the rr
// intersection API.
//
// Every frame is recorded into a single rr command stream. Shading stages run
// as host kernels dispatched through rr.CmdDispatchHost and are interleaved
// with the intersection queries; after each bounce the live paths are
// compacted so that later stages only process surviving lanes.
package integrator

import (
	"fmt"
	"time"

	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/scene"
)

var logger = log.New("integrator")

// Renderer is a wavefront path tracer bound to an rr context.
type Renderer struct {
	ctx  rr.Context
	opts Options

	// Every device buffer allocated by the renderer.
	buffers map[*buffer]struct{}

	ws     *workingSet
	scene  *compiledScene
	output *Output

	// Frames accumulated since the last Clear. Doubles as the sampler index.
	frame uint32

	// Reinitialize the per-pixel samplers on the next frame.
	resetSampler bool

	stats     statsRecorder
	lastStats FrameStats

	closed bool
}

// New creates a renderer that uses ctx for all device work. The context is
// owned by the caller and must outlive the renderer.
func New(ctx rr.Context, opts Options) (*Renderer, error) {
	api, err := rr.GetContextAPI(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrator: %w", err)
	}

	r := &Renderer{
		ctx:          ctx,
		opts:         opts.withDefaults(),
		buffers:      make(map[*buffer]struct{}),
		resetSampler: true,
	}
	logger.Infof("created renderer on %s context (bounces: %d, light samples: %d)", api, r.opts.NumBounces, r.opts.LightSamples)
	return r, nil
}

// Options returns the active renderer options.
func (r *Renderer) Options() Options {
	return r.opts
}

// SetNumBounces sets the number of path segments traced per frame.
func (r *Renderer) SetNumBounces(n uint32) {
	if n == 0 {
		return
	}
	r.opts.NumBounces = n
}

// Preprocess uploads the scene and builds its acceleration structures.
// Blocks until the builds complete.
func (r *Renderer) Preprocess(sc *scene.Scene) error {
	if r.closed {
		return ErrClosed
	}
	if sc == nil {
		return ErrSceneNotDefined
	}
	if sc.Camera == nil {
		return ErrCameraNotDefined
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("integrator: %w", err)
	}

	r.releaseScene()
	cs := &compiledScene{camera: sc.Camera}
	r.scene = cs

	err := r.buildAccelerationStructures(sc, cs)
	if err == nil {
		err = r.compileScene(sc, cs)
	}
	if err == nil {
		err = r.bakeTextures(sc, cs)
	}
	if err != nil {
		r.releaseScene()
		return err
	}

	r.resetSampler = true
	r.frame = 0
	logger.Noticef("scene uses %d bytes of device memory", cs.memory())
	return nil
}

// Stats returns the statistics of the last rendered frame.
func (r *Renderer) Stats() FrameStats {
	return r.lastStats
}

// Close releases every device buffer allocated by the renderer.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	for b := range r.buffers {
		r.release(b)
	}
	r.ws, r.scene, r.output = nil, nil, nil
	r.closed = true
}

func (r *Renderer) ready() error {
	switch {
	case r.closed:
		return ErrClosed
	case r.scene == nil:
		return ErrSceneNotDefined
	case r.output == nil || r.ws == nil:
		return ErrNoOutput
	}
	return nil
}

// Render traces one sample per pixel and accumulates it into the attached
// output.
func (r *Renderer) Render() error {
	return r.renderFrame(r.recordPathTrace)
}

// RenderAmbientOcclusion accumulates the fraction of occlusion rays of
// length radius that escape the surface seen through each pixel.
func (r *Renderer) RenderAmbientOcclusion(radius float32) error {
	return r.renderFrame(func(stream rr.CommandStream) error {
		return r.recordAmbientOcclusion(stream, radius)
	})
}

// RunBenchmark renders passes frames and aggregates their trace statistics.
func (r *Renderer) RunBenchmark(passes int) (BenchmarkStats, error) {
	passes = max(passes, 1)
	res := BenchmarkStats{Passes: passes}

	start := time.Now()
	for pass := 0; pass < passes; pass++ {
		if err := r.Render(); err != nil {
			return res, err
		}
		for bounce, stat := range r.lastStats.Bounces {
			if bounce == len(res.Bounces) {
				res.Bounces = append(res.Bounces, BounceStat{})
			}
			agg := &res.Bounces[bounce]
			agg.Rays += stat.Rays
			agg.Live += stat.Live
			agg.ShadowRays += stat.ShadowRays
			agg.TraceTime += stat.TraceTime
			agg.ShadowTraceTime += stat.ShadowTraceTime
		}
	}
	res.TotalTime = time.Since(start)

	logger.Noticef("benchmark completed %d passes in %d ms (%.2f MRays/s)", passes, res.TotalTime.Nanoseconds()/1000000, res.MRaysPerSecond())
	return res, nil
}

// Record, submit and wait for one frame.
func (r *Renderer) renderFrame(record func(stream rr.CommandStream) error) error {
	if err := r.ready(); err != nil {
		return err
	}
	start := time.Now()
	r.stats.reset()

	if err := r.uploadCamera(); err != nil {
		return err
	}

	stream, err := rr.AllocateCommandStream(r.ctx)
	if err != nil {
		return err
	}
	defer rr.ReleaseCommandStream(r.ctx, stream)

	if err = record(stream); err != nil {
		return err
	}
	if err = r.recordAccumulateData(stream); err != nil {
		return err
	}
	if err = r.recordApplyGammaAndCopyData(stream); err != nil {
		return err
	}

	event, err := rr.SubmitCommandStream(r.ctx, stream, 0)
	if err != nil {
		return err
	}
	defer rr.ReleaseEvent(r.ctx, event)

	// The only host wait of the frame; stats and Output.Image are complete
	// once it returns.
	if err = rr.WaitEvent(r.ctx, event); err != nil {
		return err
	}

	r.frame++
	r.resetSampler = false

	r.lastStats = r.stats.snapshot()
	r.lastStats.RenderTime = time.Since(start)
	r.lastStats.WorkingSetMemory = r.ws.memory()
	r.lastStats.SceneMemory = r.scene.memory()
	logger.Debugf("rendered frame %d in %d ms", r.frame, r.lastStats.RenderTime.Nanoseconds()/1000000)
	return nil
}

func (r *Renderer) uploadCamera() error {
	cam := r.scene.camera
	return r.hostWrite(r.ws.camera, func(mem []byte) {
		backend.View[cameraData](mem)[0] = cameraData{
			Frustrum: cam.Frustrum,
			Position: cam.Position.Vec4(1),
		}
	})
}

// Record a closest hit query over the live lanes of rays[cur].
func (r *Renderer) recordIntersect(stream rr.CommandStream, bounce uint32, cur int) error {
	ws := r.ws
	return r.timeTrace(stream, bounce, false, ws.hitCount[0], func() error {
		return rr.CmdIntersect(r.ctx, r.scene.accel.ptr, rr.IntersectQueryClosest, ws.rays[cur].ptr, ws.numPixels,
			ws.hitCount[0].ptr, rr.IntersectQueryOutputFullHit, ws.hits.ptr, ws.scratch.ptr, stream)
	})
}

// Record an any hit query over the spawned shadow rays.
func (r *Renderer) recordOcclusion(stream rr.CommandStream, bounce uint32) error {
	ws := r.ws
	return r.timeTrace(stream, bounce, true, ws.hitCount[1], func() error {
		return rr.CmdIntersect(r.ctx, r.scene.accel.ptr, rr.IntersectQueryAny, ws.shadowRays.ptr, ws.numPixels*ws.shadowRaysPerLane,
			ws.hitCount[1].ptr, rr.IntersectQueryOutputInstanceID, ws.shadowHits.ptr, ws.scratch.ptr, stream)
	})
}

// Bracket the commands recorded by fn with host markers that time them and
// read the number of traced rays from count.
func (r *Renderer) timeTrace(stream rr.CommandStream, bounce uint32, shadow bool, count *buffer, fn func() error) error {
	label := fmt.Sprintf("trace %d", bounce)
	if shadow {
		label = fmt.Sprintf("occlusion %d", bounce)
	}

	var start time.Time
	err := rr.CmdDispatchHost(r.ctx, stream, label+" begin", func() error {
		start = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if err = fn(); err != nil {
		return err
	}
	return rr.CmdDispatchHost(r.ctx, stream, label+" end", func() error {
		elapsed := time.Since(start)
		v := &hostView{ctx: r.ctx}
		rays := view[uint32](v, count)
		if err := v.close(); err != nil {
			return err
		}
		r.stats.recordTrace(int(bounce), shadow, rays[0], elapsed)
		return nil
	})
}

// Record the bounce loop of the path tracer.
func (r *Renderer) recordPathTrace(stream rr.CommandStream) error {
	if err := r.recordInitPathStream(stream); err != nil {
		return err
	}
	if err := r.recordGeneratePrimaryRays(stream); err != nil {
		return err
	}

	for bounce := uint32(0); bounce < r.opts.NumBounces; bounce++ {
		cur, nxt := int(bounce&1), int((bounce+1)&1)

		if err := r.recordIntersect(stream, bounce, cur); err != nil {
			return err
		}
		if r.scene.volume != nil {
			if err := r.recordEvaluateVolume(stream, bounce, cur); err != nil {
				return err
			}
		}
		if err := r.recordFilterPathStream(stream, cur); err != nil {
			return err
		}
		if err := r.recordCompact(stream, bounce); err != nil {
			return err
		}
		if err := r.recordRestorePixelIndices(stream, cur, nxt); err != nil {
			return err
		}
		if r.scene.volume != nil {
			if err := r.recordShadeVolume(stream, bounce, cur, nxt); err != nil {
				return err
			}
		}
		if err := r.recordShadeSurface(stream, bounce, cur, nxt); err != nil {
			return err
		}
		if bounce == 0 {
			if err := r.recordShadeMiss(stream); err != nil {
				return err
			}
		}
		if err := r.recordOcclusion(stream, bounce); err != nil {
			return err
		}
		if err := r.recordGatherLightSamples(stream, nxt); err != nil {
			return err
		}
	}
	return nil
}

// Record the one bounce ambient occlusion pipeline.
func (r *Renderer) recordAmbientOcclusion(stream rr.CommandStream, radius float32) error {
	steps := []func() error{
		func() error { return r.recordInitPathStream(stream) },
		func() error { return r.recordGeneratePrimaryRays(stream) },
		func() error { return r.recordIntersect(stream, 0, 0) },
		func() error { return r.recordFilterPathStream(stream, 0) },
		func() error { return r.recordCompact(stream, 0) },
		func() error { return r.recordRestorePixelIndices(stream, 0, 1) },
		func() error { return r.recordSampleOcclusion(stream, radius) },
		func() error { return r.recordOcclusion(stream, 0) },
		func() error { return r.recordGatherOcclusion(stream) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
