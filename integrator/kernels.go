package integrator

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/achilleasa/rayforge/integrator/bxdf"
	"github.com/achilleasa/rayforge/integrator/parallel"
	"github.com/achilleasa/rayforge/integrator/sampling"
	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

// Sampler dimension layout. The camera uses the first two dimensions; every
// bounce then consumes a block of dimensions starting at bounceDim.
const (
	dimCamera      = 0
	dimFirstBounce = 2

	// Offsets inside a bounce block.
	dimVolumeDistance  = 0
	dimRussianRoulette = 1
	dimContinuation    = 2
	dimLightSamples    = 4
)

const (
	// Offset applied to spawned ray origins.
	rayEpsilon float32 = 1e-4

	maxRayT float32 = math.MaxFloat32

	// Continuation rays with a smaller pdf or cosine terminate the path.
	minContinuationPdf float32 = 1e-3
	minContinuationCos float32 = 1e-3

	// Lower bound of the russian roulette termination probability.
	minRRProbability float32 = 0.05

	// Per channel bound of a surface light sample.
	maxSampleRadiance float32 = 10
)

func bounceDim(bounce, lightSamples uint32) uint32 {
	return dimFirstBounce + bounce*(dimLightSamples+4*lightSamples)
}

// Record a host kernel. fn runs on the device queue with a fresh host view;
// writable mappings are published once it returns.
func (r *Renderer) dispatch(stream rr.CommandStream, kt kernelType, fn func(v *hostView) error) error {
	return rr.CmdDispatchHost(r.ctx, stream, kt.String(), func() error {
		start := time.Now()
		v := &hostView{ctx: r.ctx}
		err := fn(v)
		if cerr := v.close(); err == nil {
			err = cerr
		}
		r.stats.recordStage(kt, time.Since(start))
		if err != nil {
			return fmt.Errorf("integrator: %s: %w", kt, err)
		}
		return nil
	})
}

// Run fn for every lane in [0, n).
func exec1D(n uint32, fn func(i uint32)) error {
	return parallel.For(int(n), parallel.Grain, func(start, end int) error {
		for i := start; i < end; i++ {
			fn(uint32(i))
		}
		return nil
	})
}

// Run fn for every pixel of a w x h frame. Rows are split across workers.
func exec2D(w, h uint32, fn func(x, y uint32)) error {
	grain := max(1, parallel.Grain/int(max(w, 1)))
	return parallel.For(int(h), grain, func(start, end int) error {
		for y := uint32(start); y < uint32(end); y++ {
			for x := uint32(0); x < w; x++ {
				fn(x, y)
			}
		}
		return nil
	})
}

func addRadiance(dst *types.Vec4, radiance types.Vec3) {
	dst[0] += radiance[0]
	dst[1] += radiance[1]
	dst[2] += radiance[2]
}

// Reset the lane counters, the lane to pixel mapping and the frame radiance.
func (r *Renderer) recordInitPathStream(stream rr.CommandStream) error {
	ws := r.ws
	return r.dispatch(stream, initPathStream, func(v *hostView) error {
		liveCount := viewRW[uint32](v, ws.hitCount[0])
		shadowCount := viewRW[uint32](v, ws.hitCount[1])
		iota := view[uint32](v, ws.iota)
		pixelIndices := viewRW[uint32](v, ws.pixelIndices[0])
		radiance := viewRW[types.Vec4](v, ws.radiance)
		if v.err != nil {
			return v.err
		}

		liveCount[0] = ws.numPixels
		shadowCount[0] = ws.numPixels * ws.shadowRaysPerLane
		copy(pixelIndices, iota)
		clear(radiance)
		return nil
	})
}

// Emit one jittered camera ray per pixel.
func (r *Renderer) recordGeneratePrimaryRays(stream rr.CommandStream) error {
	ws := r.ws
	frameW, frameH := r.output.width, r.output.height
	frame, reset, seed := r.frame, r.resetSampler, r.opts.Seed

	return r.dispatch(stream, generatePrimaryRays, func(v *hostView) error {
		camera := view[cameraData](v, ws.camera)
		rays := viewRW[rr.Ray](v, ws.rays[0])
		samplers := viewRW[sampling.Sampler](v, ws.samplers)
		paths := viewRW[pathState](v, ws.paths)
		if v.err != nil {
			return v.err
		}

		lens := scene.Camera{Frustrum: camera[0].Frustrum}
		eye := camera[0].Position.Vec3()
		texelW, texelH := 1/float32(frameW), 1/float32(frameH)

		return exec2D(frameW, frameH, func(x, y uint32) {
			pixel := y*frameW + x
			if reset {
				samplers[pixel] = sampling.NewSampler(pixel, seed)
			}
			samplers[pixel].Index = frame

			jx, jy := samplers[pixel].Sample2D(dimCamera)
			dir := lens.Ray((float32(x)+jx)*texelW, (float32(y)+jy)*texelH).Normalize()
			rays[pixel] = rr.Ray{Origin: eye, Direction: dir, MaxT: maxRayT}
			paths[pixel] = pathState{Throughput: types.Splat3(1), Flags: pathAlive}
		})
	})
}

// Delta track the rays of paths inside the scene volume against a scalar
// majorant. Scattering events before the hit point flag the path as
// scattered and record the event distance.
func (r *Renderer) recordEvaluateVolume(stream rr.CommandStream, bounce uint32, cur int) error {
	ws := r.ws
	dim := bounceDim(bounce, r.opts.LightSamples) + dimVolumeDistance

	return r.dispatch(stream, evaluateVolume, func(v *hostView) error {
		sv := r.mapScene(v)
		liveCount := view[uint32](v, ws.hitCount[0])
		rays := view[rr.Ray](v, ws.rays[cur])
		hits := view[rr.Hit](v, ws.hits)
		pixelIndices := view[uint32](v, ws.pixelIndices[cur])
		samplers := view[sampling.Sampler](v, ws.samplers)
		paths := viewRW[pathState](v, ws.paths)
		radiance := viewRW[types.Vec4](v, ws.radiance)
		if v.err != nil {
			return v.err
		}
		vol := sv.volume
		if vol == nil {
			return nil
		}

		sigmaT := vol.SigmaT()
		majorant := min(sigmaT[0], sigmaT[1], sigmaT[2])
		if majorant <= 0 {
			return nil
		}

		// exp(-sigmaT * t) / exp(-majorant * t)
		ratio := func(t float32) types.Vec3 {
			var out types.Vec3
			for c := range out {
				out[c] = float32(math.Exp(float64((majorant - sigmaT[c]) * t)))
			}
			return out
		}

		return exec1D(liveCount[0], func(i uint32) {
			pixel := pixelIndices[i]
			path := &paths[pixel]
			path.Flags &^= pathScattered
			if path.InVolume == 0 || path.Flags&pathAlive == 0 {
				return
			}

			ray := &rays[i]
			tHit := ray.MaxT
			if hits[i].InstID != rr.InvalidID {
				tHit = sv.hitDistance(ray, &hits[i])
			}

			u := samplers[pixel].Sample1D(dim)
			d := -float32(math.Log(float64(1-u))) / majorant
			if d >= tHit {
				path.Throughput = path.Throughput.MulVec(ratio(tHit))
				return
			}

			weight := ratio(d).Mul(1 / majorant)
			addRadiance(&radiance[pixel], path.Throughput.MulVec(vol.SigmaE.MulVec(weight)))
			path.Throughput = path.Throughput.MulVec(vol.SigmaS.MulVec(weight))
			path.Flags |= pathScattered
			path.ScatterT = d
			if path.Throughput.IsZero() {
				path.kill()
			}
		})
	})
}

// Flag lanes that continue: the path is alive and either hit a surface or
// scattered inside the volume.
func (r *Renderer) recordFilterPathStream(stream rr.CommandStream, cur int) error {
	ws := r.ws
	return r.dispatch(stream, filterPathStream, func(v *hostView) error {
		liveCount := view[uint32](v, ws.hitCount[0])
		hits := view[rr.Hit](v, ws.hits)
		pixelIndices := view[uint32](v, ws.pixelIndices[cur])
		paths := view[pathState](v, ws.paths)
		predicate := viewRW[uint32](v, ws.predicate)
		if v.err != nil {
			return v.err
		}

		return exec1D(liveCount[0], func(i uint32) {
			path := &paths[pixelIndices[i]]
			predicate[i] = 0
			if path.Flags&pathAlive != 0 && (hits[i].InstID != rr.InvalidID || path.Flags&pathScattered != 0) {
				predicate[i] = 1
			}
		})
	})
}

// Stream compaction over the live lanes. Rewrites the live lane count.
func (r *Renderer) recordCompact(stream rr.CommandStream, bounce uint32) error {
	ws := r.ws
	return r.dispatch(stream, compact, func(v *hostView) error {
		liveCount := viewRW[uint32](v, ws.hitCount[0])
		predicate := view[uint32](v, ws.predicate)
		iota := view[uint32](v, ws.iota)
		compacted := viewRW[uint32](v, ws.compacted)
		if v.err != nil {
			return v.err
		}

		live := liveCount[0]
		liveCount[0] = parallel.Compact(predicate[:live], iota[:live], compacted)
		r.stats.recordLive(int(bounce), liveCount[0])
		return nil
	})
}

// Carry the pixel of every surviving lane over to its compacted slot.
func (r *Renderer) recordRestorePixelIndices(stream rr.CommandStream, cur, nxt int) error {
	ws := r.ws
	return r.dispatch(stream, restorePixelIndices, func(v *hostView) error {
		liveCount := view[uint32](v, ws.hitCount[0])
		compacted := view[uint32](v, ws.compacted)
		src := view[uint32](v, ws.pixelIndices[cur])
		dst := viewRW[uint32](v, ws.pixelIndices[nxt])
		if v.err != nil {
			return v.err
		}

		return exec1D(liveCount[0], func(i uint32) {
			dst[i] = src[compacted[i]]
		})
	})
}

// Buffers written by the shading kernels for one lane.
type laneOutput struct {
	next         *rr.Ray
	shadowRays   []rr.Ray
	lightSamples []lightSample
}

// Disable every shadow ray of the lane. A ray with a negative max distance
// never reports an occluder and its zero sample adds nothing.
func (lo *laneOutput) reset() {
	*lo.next = rr.Ray{MaxT: -1}
	for k := range lo.shadowRays {
		lo.shadowRays[k] = rr.Ray{MaxT: -1}
		lo.lightSamples[k] = lightSample{}
	}
}

// Clamp each channel of a light sample to [0, maxSampleRadiance].
func clampRadiance(radiance types.Vec3) types.Vec3 {
	for c := range radiance {
		radiance[c] = min(max(radiance[c], 0), maxSampleRadiance)
	}
	return radiance
}

// Cosine between a continuation direction and the hemisphere its lobe
// scatters into. Translucent lobes transmit and every other lobe reflects,
// so a direction on the wrong side yields a non-positive value.
func continuationCos(mat *scene.Material, wi types.Vec3) float32 {
	if mat.Type == scene.TranslucentMaterial {
		return -wi[2]
	}
	return wi[2]
}

// Apply russian roulette. Returns false if the path got terminated.
func russianRoulette(path *pathState, u float32) bool {
	q := max(minRRProbability, 1-path.Throughput.MaxComponent())
	if u < q {
		path.kill()
		return false
	}
	path.Throughput = path.Throughput.Mul(1 / (1 - q))
	return true
}

// Shared state of the shading kernels.
type shadeArgs struct {
	sv           sceneView
	liveCount    uint32
	compacted    []uint32
	pixelIndices []uint32
	rays         []rr.Ray
	hits         []rr.Hit
	next         []rr.Ray
	shadowRays   []rr.Ray
	lightSamples []lightSample
	paths        []pathState
	samplers     []sampling.Sampler
	radiance     []types.Vec4
}

func (r *Renderer) mapShadeArgs(v *hostView, cur, nxt int) shadeArgs {
	ws := r.ws
	args := shadeArgs{
		sv:           r.mapScene(v),
		compacted:    view[uint32](v, ws.compacted),
		pixelIndices: view[uint32](v, ws.pixelIndices[nxt]),
		rays:         view[rr.Ray](v, ws.rays[cur]),
		hits:         view[rr.Hit](v, ws.hits),
		next:         viewRW[rr.Ray](v, ws.rays[nxt]),
		shadowRays:   viewRW[rr.Ray](v, ws.shadowRays),
		lightSamples: viewRW[lightSample](v, ws.lightSamples),
		paths:        viewRW[pathState](v, ws.paths),
		samplers:     view[sampling.Sampler](v, ws.samplers),
		radiance:     viewRW[types.Vec4](v, ws.radiance),
	}
	if count := view[uint32](v, ws.hitCount[0]); len(count) != 0 {
		args.liveCount = count[0]
	}
	return args
}

func (a *shadeArgs) lane(i, shadowRaysPerLane uint32) laneOutput {
	first, last := i*shadowRaysPerLane, (i+1)*shadowRaysPerLane
	return laneOutput{
		next:         &a.next[i],
		shadowRays:   a.shadowRays[first:last],
		lightSamples: a.lightSamples[first:last],
	}
}

// Shade lanes whose path scattered inside the volume. Next event estimation
// combines an environment sample with a phase function sample; the path
// continues in a uniformly sampled direction.
func (r *Renderer) recordShadeVolume(stream rr.CommandStream, bounce uint32, cur, nxt int) error {
	ws := r.ws
	lightSamples := r.opts.LightSamples
	minBouncesForRR := r.opts.MinBouncesForRR
	dim := bounceDim(bounce, lightSamples)

	return r.dispatch(stream, shadeVolume, func(v *hostView) error {
		args := r.mapShadeArgs(v, cur, nxt)
		if v.err != nil {
			return v.err
		}
		env := args.sv.env
		phase := sampling.UniformSpherePdf()

		return exec1D(args.liveCount, func(i uint32) {
			pixel := args.pixelIndices[i]
			path := &args.paths[pixel]
			if path.Flags&pathScattered == 0 {
				return
			}
			out := args.lane(i, ws.shadowRaysPerLane)
			out.reset()

			ray := &args.rays[args.compacted[i]]
			pos := types.Vec3(ray.Origin).Add(types.Vec3(ray.Direction).Mul(path.ScatterT))
			sampler := args.samplers[pixel]

			if env != nil {
				for k := uint32(0); k < lightSamples; k++ {
					kdim := dim + dimLightSamples + 4*k

					dir, le, lightPdf := env.Sample(sampler.Sample2D(kdim))
					if lightPdf > 0 {
						w := sampling.PowerHeuristic(1, lightPdf, 1, phase)
						out.shadowRays[2*k] = rr.Ray{Origin: pos, Direction: dir, MaxT: maxRayT}
						out.lightSamples[2*k].Radiance = path.Throughput.MulVec(le).Mul(phase * w / lightPdf)
					}

					dir = sampling.UniformSphere(sampler.Sample2D(kdim + 2))
					w := sampling.PowerHeuristic(1, phase, 1, env.Pdf(dir))
					out.shadowRays[2*k+1] = rr.Ray{Origin: pos, Direction: dir, MaxT: maxRayT}
					out.lightSamples[2*k+1].Radiance = path.Throughput.MulVec(env.Lookup(dir)).Mul(w)
				}
			}

			if bounce >= minBouncesForRR && !russianRoulette(path, sampler.Sample1D(dim+dimRussianRoulette)) {
				return
			}
			dir := sampling.UniformSphere(sampler.Sample2D(dim + dimContinuation))
			*out.next = rr.Ray{Origin: pos, Direction: dir, MaxT: maxRayT}
		})
	})
}

// Shade surface hits. Emissive surfaces terminate the path. Other surfaces
// spawn one light and one BRDF strategy shadow ray per light sample pair,
// weighted with the power heuristic, and one continuation ray.
func (r *Renderer) recordShadeSurface(stream rr.CommandStream, bounce uint32, cur, nxt int) error {
	ws := r.ws
	lightSamples := r.opts.LightSamples
	minBouncesForRR := r.opts.MinBouncesForRR
	dim := bounceDim(bounce, lightSamples)

	return r.dispatch(stream, shadeSurface, func(v *hostView) error {
		args := r.mapShadeArgs(v, cur, nxt)
		shadowCount := viewRW[uint32](v, ws.hitCount[1])
		if v.err != nil {
			return v.err
		}
		shadowCount[0] = args.liveCount * ws.shadowRaysPerLane
		env := args.sv.env

		return exec1D(args.liveCount, func(i uint32) {
			pixel := args.pixelIndices[i]
			path := &args.paths[pixel]
			if path.Flags&pathScattered != 0 {
				return
			}
			out := args.lane(i, ws.shadowRaysPerLane)
			out.reset()

			lane := args.compacted[i]
			ray := &args.rays[lane]
			surface := args.sv.surface(&args.hits[lane])
			wo := types.Vec3(ray.Direction).Neg().Normalize()
			surface.faceForward(wo)

			mat := surface.material
			if mat.IsEmissive() {
				addRadiance(&args.radiance[pixel], path.Throughput.MulVec(bxdf.Emission(mat)))
				path.kill()
				return
			}

			n := surface.normal
			woLocal := sampling.ToLocal(n, wo)
			sampler := args.samplers[pixel]

			if env != nil {
				for k := uint32(0); k < lightSamples; k++ {
					kdim := dim + dimLightSamples + 4*k

					dir, le, lightPdf := env.Sample(sampler.Sample2D(kdim))
					if lightPdf > 0 && !le.IsZero() {
						wi := sampling.ToLocal(n, dir)
						if f := bxdf.Evaluate(mat, wi, woLocal); !f.IsZero() {
							w := sampling.PowerHeuristic(1, lightPdf, 1, bxdf.Pdf(mat, wi, woLocal))
							cos := float32(math.Abs(float64(wi[2])))
							out.shadowRays[2*k] = surface.spawn(dir, maxRayT)
							out.lightSamples[2*k].Radiance = clampRadiance(path.Throughput.MulVec(f).MulVec(le).Mul(cos * w / lightPdf))
						}
					}

					u1, u2 := sampler.Sample2D(kdim + 2)
					if wi, f, bsdfPdf := bxdf.Sample(mat, woLocal, u1, u2); bsdfPdf > 0 && !f.IsZero() {
						dir := sampling.ToWorld(n, wi)
						w := sampling.PowerHeuristic(1, bsdfPdf, 1, env.Pdf(dir))
						cos := float32(math.Abs(float64(wi[2])))
						out.shadowRays[2*k+1] = surface.spawn(dir, maxRayT)
						out.lightSamples[2*k+1].Radiance = clampRadiance(path.Throughput.MulVec(f).MulVec(env.Lookup(dir)).Mul(cos * w / bsdfPdf))
					}
				}
			}

			u1, u2 := sampler.Sample2D(dim + dimContinuation)
			wi, f, pdf := bxdf.Sample(mat, woLocal, u1, u2)
			cos := continuationCos(mat, wi)
			if pdf <= minContinuationPdf || cos <= minContinuationCos || f.IsZero() {
				path.kill()
				return
			}
			dir := sampling.ToWorld(n, wi)
			path.Throughput = path.Throughput.MulVec(f).Mul(cos / pdf)

			if bounce >= minBouncesForRR && !russianRoulette(path, sampler.Sample1D(dim+dimRussianRoulette)) {
				return
			}

			// Transmission through a volume boundary enters or leaves the
			// volume.
			if surface.shape.Flags&scene.ShapeFlagVolume != 0 && dir.Dot(surface.geomNormal) < 0 {
				path.InVolume ^= 1
			}
			*out.next = surface.spawn(dir, maxRayT)
		})
	})
}

// Add the environment radiance for primary rays that escaped the scene.
func (r *Renderer) recordShadeMiss(stream rr.CommandStream) error {
	ws := r.ws
	return r.dispatch(stream, shadeMiss, func(v *hostView) error {
		sv := r.mapScene(v)
		rays := view[rr.Ray](v, ws.rays[0])
		hits := view[rr.Hit](v, ws.hits)
		paths := view[pathState](v, ws.paths)
		radiance := viewRW[types.Vec4](v, ws.radiance)
		if v.err != nil {
			return v.err
		}
		if sv.env == nil {
			return nil
		}

		return exec1D(ws.numPixels, func(pixel uint32) {
			path := &paths[pixel]
			if hits[pixel].InstID != rr.InvalidID || path.Flags&pathScattered != 0 {
				return
			}
			addRadiance(&radiance[pixel], path.Throughput.MulVec(sv.env.Lookup(rays[pixel].Direction)))
		})
	})
}

// Sum the samples of unoccluded shadow rays into the pixel radiance.
func (r *Renderer) recordGatherLightSamples(stream rr.CommandStream, nxt int) error {
	ws := r.ws
	scale := 1 / float32(r.opts.LightSamples)
	return r.dispatch(stream, gatherLightSamples, func(v *hostView) error {
		liveCount := view[uint32](v, ws.hitCount[0])
		pixelIndices := view[uint32](v, ws.pixelIndices[nxt])
		shadowHits := view[uint32](v, ws.shadowHits)
		samples := view[lightSample](v, ws.lightSamples)
		radiance := viewRW[types.Vec4](v, ws.radiance)
		if v.err != nil {
			return v.err
		}

		perLane := ws.shadowRaysPerLane
		return exec1D(liveCount[0], func(i uint32) {
			var sum types.Vec3
			for k := i * perLane; k < (i+1)*perLane; k++ {
				if shadowHits[k] == rr.InvalidID {
					sum = sum.Add(samples[k].Radiance)
				}
			}
			addRadiance(&radiance[pixelIndices[i]], sum.Mul(scale))
		})
	})
}

// Spawn cosine distributed occlusion rays of length radius around every
// primary hit.
func (r *Renderer) recordSampleOcclusion(stream rr.CommandStream, radius float32) error {
	ws := r.ws
	return r.dispatch(stream, sampleOcclusion, func(v *hostView) error {
		args := r.mapShadeArgs(v, 0, 1)
		shadowCount := viewRW[uint32](v, ws.hitCount[1])
		if v.err != nil {
			return v.err
		}
		shadowCount[0] = args.liveCount * ws.shadowRaysPerLane

		return exec1D(args.liveCount, func(i uint32) {
			pixel := args.pixelIndices[i]
			out := args.lane(i, ws.shadowRaysPerLane)
			out.reset()

			lane := args.compacted[i]
			surface := args.sv.surface(&args.hits[lane])
			surface.faceForward(types.Vec3(args.rays[lane].Direction).Neg())

			sampler := args.samplers[pixel]
			for k := range out.shadowRays {
				dir := sampling.ToWorld(surface.normal, sampling.CosineHemisphere(sampler.Sample2D(dimFirstBounce+2*uint32(k))))
				out.shadowRays[k] = surface.spawn(dir, radius)
			}
		})
	})
}

// Store the unoccluded fraction of the occlusion rays as the pixel value.
func (r *Renderer) recordGatherOcclusion(stream rr.CommandStream) error {
	ws := r.ws
	return r.dispatch(stream, gatherOcclusion, func(v *hostView) error {
		liveCount := view[uint32](v, ws.hitCount[0])
		pixelIndices := view[uint32](v, ws.pixelIndices[1])
		shadowHits := view[uint32](v, ws.shadowHits)
		radiance := viewRW[types.Vec4](v, ws.radiance)
		if v.err != nil {
			return v.err
		}

		perLane := ws.shadowRaysPerLane
		return exec1D(liveCount[0], func(i uint32) {
			var visible uint32
			for k := i * perLane; k < (i+1)*perLane; k++ {
				if shadowHits[k] == rr.InvalidID {
					visible++
				}
			}
			ao := float32(visible) / float32(perLane)
			radiance[pixelIndices[i]] = types.XYZW(ao, ao, ao, 0)
		})
	})
}

// Add the frame radiance to the output accumulator. The w component counts
// the accumulated frames.
func (r *Renderer) recordAccumulateData(stream rr.CommandStream) error {
	ws, out := r.ws, r.output
	return r.dispatch(stream, accumulateData, func(v *hostView) error {
		radiance := view[types.Vec4](v, ws.radiance)
		accum := viewRW[types.Vec4](v, out.accum)
		if v.err != nil {
			return v.err
		}

		return exec1D(ws.numPixels, func(i uint32) {
			src := radiance[i]
			accum[i] = accum[i].Add(types.XYZW(src[0], src[1], src[2], 1))
		})
	})
}

// Tonemap the accumulated radiance into the output image.
func (r *Renderer) recordApplyGammaAndCopyData(stream rr.CommandStream) error {
	out := r.output
	exposure := r.opts.Exposure
	invGamma := 1 / float64(r.opts.Gamma)

	return r.dispatch(stream, applyGammaAndCopyData, func(v *hostView) error {
		accum := view[types.Vec4](v, out.accum)
		if v.err != nil {
			return v.err
		}

		tonemap := func(c float32) uint8 {
			mapped := math.Pow(float64(max(c*exposure, 0)), invGamma)
			return uint8(min(mapped, 1) * 255)
		}
		return exec2D(out.width, out.height, func(x, y uint32) {
			px := accum[y*out.width+x]
			var avg types.Vec3
			if px[3] > 0 {
				avg = px.Vec3().Mul(1 / px[3])
			}
			out.Image.SetRGBA(int(x), int(y), color.RGBA{tonemap(avg[0]), tonemap(avg[1]), tonemap(avg[2]), 255})
		})
	})
}
