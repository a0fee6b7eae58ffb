package integrator

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/achilleasa/rayforge/rr"
	_ "github.com/achilleasa/rayforge/rr/backend/cpu"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

func createTestRenderer(t *testing.T, opts Options) *Renderer {
	t.Helper()
	ctx, err := rr.CreateContext(rr.APIVersion, rr.APICPU, rr.WithHeapSize(64<<20))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rr.DestroyContext(ctx) })

	r, err := New(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r
}

func setupTestRenderer(t *testing.T, sc *scene.Scene, w, h uint32, opts Options) (*Renderer, *Output) {
	t.Helper()
	r := createTestRenderer(t, opts)
	sc.Camera.SetupProjection(float32(w) / float32(h))
	if err := r.Preprocess(sc); err != nil {
		t.Fatal(err)
	}
	out, err := r.CreateOutput(w, h)
	if err != nil {
		t.Fatal(err)
	}
	if err = r.SetOutput(out); err != nil {
		t.Fatal(err)
	}
	return r, out
}

func preset(t *testing.T, name string) *scene.Scene {
	t.Helper()
	sc, err := scene.NewPreset(name)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

// A camera placed inside a closed box; every primary ray hits.
func closedBoxScene(t *testing.T) *scene.Scene {
	t.Helper()
	sc := scene.NewScene()
	mat := sc.AddMaterial(scene.NewLambert(types.XYZ(0.5, 0.5, 0.5)))
	if _, err := sc.AddMesh("box", scene.NewBox(types.XYZ(10, 10, 10)), mat, types.Ident3x4()); err != nil {
		t.Fatal(err)
	}
	cam := scene.NewCamera(60)
	cam.Position = types.XYZ(0.1, 0.2, 0.3)
	cam.LookAt = types.XYZ(1, 0.5, -2)
	cam.Update()
	sc.SetCamera(cam)
	return sc
}

func TestRenderErrors(t *testing.T) {
	r := createTestRenderer(t, Options{})

	if err := r.Render(); !errors.Is(err, ErrSceneNotDefined) {
		t.Fatalf("expected error %v; got %v", ErrSceneNotDefined, err)
	}
	if err := r.Preprocess(scene.NewScene()); !errors.Is(err, ErrCameraNotDefined) {
		t.Fatalf("expected error %v; got %v", ErrCameraNotDefined, err)
	}
	if err := r.Preprocess(preset(t, "cornell")); err != nil {
		t.Fatal(err)
	}
	if err := r.Render(); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected error %v; got %v", ErrNoOutput, err)
	}
	if _, err := r.CreateOutput(0, 4); !errors.Is(err, ErrInvalidOutput) {
		t.Fatalf("expected error %v; got %v", ErrInvalidOutput, err)
	}

	r.Close()
	if err := r.Render(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected error %v; got %v", ErrClosed, err)
	}
}

func TestLiveRaysDoNotIncrease(t *testing.T) {
	const w, h = 16, 12
	r, _ := setupTestRenderer(t, preset(t, "cornell"), w, h, Options{NumBounces: 4, MinBouncesForRR: 1, LightSamples: 2})
	if err := r.Render(); err != nil {
		t.Fatal(err)
	}

	stats := r.Stats()
	if len(stats.Bounces) != 4 {
		t.Fatalf("expected stats for 4 bounces; got %d", len(stats.Bounces))
	}
	if stats.Bounces[0].Rays != w*h {
		t.Fatalf("expected %d primary rays; got %d", w*h, stats.Bounces[0].Rays)
	}
	for bounce, stat := range stats.Bounces {
		if stat.Live > stat.Rays {
			t.Fatalf("[bounce %d] expected at most %d live paths; got %d", bounce, stat.Rays, stat.Live)
		}
		if stat.ShadowRays != stat.Live*4 {
			t.Fatalf("[bounce %d] expected %d shadow rays; got %d", bounce, stat.Live*4, stat.ShadowRays)
		}
		if bounce > 0 && stat.Rays != stats.Bounces[bounce-1].Live {
			t.Fatalf("[bounce %d] expected to trace the %d paths alive after the previous bounce; got %d", bounce, stats.Bounces[bounce-1].Live, stat.Rays)
		}
	}
	if len(stats.Stages) == 0 || stats.RenderTime <= 0 {
		t.Fatal("expected kernel timings to be recorded")
	}
}

func TestCompactionOfFullyAliveLanesIsPermutation(t *testing.T) {
	const w, h = 8, 8
	r, _ := setupTestRenderer(t, closedBoxScene(t), w, h, Options{NumBounces: 1})
	if err := r.Render(); err != nil {
		t.Fatal(err)
	}

	if live := r.Stats().Bounces[0].Live; live != w*h {
		t.Fatalf("expected all %d lanes to survive; got %d", w*h, live)
	}

	indices, err := download[uint32](r, r.ws.pixelIndices[1])
	if err != nil {
		t.Fatal(err)
	}
	indices = indices[:w*h]
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, pixel := range indices {
		if pixel != uint32(i) {
			t.Fatalf("expected pixel indices to be a permutation of [0, %d); got %v", w*h, indices)
		}
	}
}

func TestRenderAccumulatesRadiance(t *testing.T) {
	for _, name := range []string{"spheres", "cornell", "fog"} {
		r, out := setupTestRenderer(t, preset(t, name), 16, 16, Options{NumBounces: 3})
		for frame := 0; frame < 2; frame++ {
			if err := r.Render(); err != nil {
				t.Fatalf("[%s] %v", name, err)
			}
		}

		data, err := r.GetData(out)
		if err != nil {
			t.Fatal(err)
		}
		var lit int
		for i, px := range data {
			for _, c := range px {
				if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) || c < 0 {
					t.Fatalf("[%s] pixel %d: expected finite non-negative radiance; got %v", name, i, px)
				}
			}
			if !px.IsZero() {
				lit++
			}
		}
		if lit == 0 {
			t.Fatalf("[%s] expected some pixels to receive light", name)
		}

		var nonBlack bool
		for i := 0; i < len(out.Image.Pix); i += 4 {
			if out.Image.Pix[i] != 0 || out.Image.Pix[i+1] != 0 || out.Image.Pix[i+2] != 0 {
				nonBlack = true
				break
			}
		}
		if !nonBlack {
			t.Fatalf("[%s] expected the output image to contain non-black pixels", name)
		}
	}
}

func TestAmbientOcclusionRange(t *testing.T) {
	r, out := setupTestRenderer(t, preset(t, "cornell"), 16, 16, Options{LightSamples: 4})
	if err := r.RenderAmbientOcclusion(0.5); err != nil {
		t.Fatal(err)
	}

	data, err := r.GetData(out)
	if err != nil {
		t.Fatal(err)
	}
	var maxAO float32
	for i, px := range data {
		if px[0] < 0 || px[0] > 1 || px[0] != px[1] || px[1] != px[2] {
			t.Fatalf("pixel %d: expected a grey value in [0, 1]; got %v", i, px)
		}
		maxAO = max(maxAO, px[0])
	}
	if maxAO == 0 {
		t.Fatal("expected some surfaces to be visible from the camera")
	}
}

func TestClearResetsAccumulation(t *testing.T) {
	r, out := setupTestRenderer(t, preset(t, "spheres"), 8, 8, Options{NumBounces: 2})
	for frame := 0; frame < 3; frame++ {
		if err := r.Render(); err != nil {
			t.Fatal(err)
		}
	}
	if r.frame != 3 || r.resetSampler {
		t.Fatalf("expected 3 accumulated frames; got %d (reset: %t)", r.frame, r.resetSampler)
	}

	if err := r.Clear(types.Vec4{}, out); err != nil {
		t.Fatal(err)
	}
	if r.frame != 0 || !r.resetSampler {
		t.Fatal("expected Clear to restart the sample sequence")
	}
	data, err := r.GetData(out)
	if err != nil {
		t.Fatal(err)
	}
	for i, px := range data {
		if !px.IsZero() {
			t.Fatalf("pixel %d: expected zero radiance after Clear; got %v", i, px)
		}
	}

	other := createTestRenderer(t, Options{})
	if err = other.Clear(types.Vec4{}, out); !errors.Is(err, ErrOutputMismatch) {
		t.Fatalf("expected error %v; got %v", ErrOutputMismatch, err)
	}
}

func TestRunBenchmark(t *testing.T) {
	r, _ := setupTestRenderer(t, preset(t, "spheres"), 8, 8, Options{NumBounces: 2})
	res, err := r.RunBenchmark(3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passes != 3 || len(res.Bounces) != 2 {
		t.Fatalf("expected 3 passes over 2 bounces; got %d passes and %d bounces", res.Passes, len(res.Bounces))
	}
	if res.Bounces[0].Rays != 3*64 {
		t.Fatalf("expected %d primary rays; got %d", 3*64, res.Bounces[0].Rays)
	}
	if res.MRaysPerSecond() <= 0 {
		t.Fatal("expected a positive ray throughput")
	}
}
