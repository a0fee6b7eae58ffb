package cmd

import (
	"fmt"
	"strings"

	"github.com/achilleasa/rayforge/integrator"
	"github.com/achilleasa/rayforge/rr"
	_ "github.com/achilleasa/rayforge/rr/backend/cpu"
	_ "github.com/achilleasa/rayforge/rr/backend/vulkan"
	"github.com/achilleasa/rayforge/scene"
	"github.com/urfave/cli"
)

// Map the value of the api flag to an rr API tag.
func parseAPI(name string) (rr.API, error) {
	switch strings.ToLower(name) {
	case "cpu":
		return rr.APICPU, nil
	case "opencl", "cl":
		return rr.APICL, nil
	case "vulkan", "vk":
		return rr.APIVK, nil
	case "dx12", "dx":
		return rr.APIDX, nil
	case "hip":
		return rr.APIHIP, nil
	}
	return 0, fmt.Errorf("unknown api %q", name)
}

func createContext(ctx *cli.Context) (rr.Context, error) {
	api, err := parseAPI(ctx.String("api"))
	if err != nil {
		return 0, err
	}

	var opts []rr.Option
	if heap := ctx.Int("heap"); heap > 0 {
		opts = append(opts, rr.WithHeapSize(uint64(heap)<<20))
	}
	if filter := ctx.String("device"); filter != "" {
		opts = append(opts, rr.WithDeviceFilter(filter))
	}
	return rr.CreateContext(rr.APIVersion, api, opts...)
}

func rendererOptions(ctx *cli.Context) integrator.Options {
	opts := integrator.Options{
		NumBounces:      uint32(ctx.Int("bounces")),
		MinBouncesForRR: uint32(ctx.Int("rr-bounces")),
		LightSamples:    uint32(ctx.Int("light-samples")),
		Exposure:        float32(ctx.Float64("exposure")),
		Seed:            uint32(ctx.Int("seed")),
		DisableVolume:   !ctx.BoolT("volume"),
	}

	if opts.NumBounces != 0 && opts.MinBouncesForRR >= opts.NumBounces {
		logger.Notice("disabling RR for path elimination")
	}
	return opts
}

// Load the scene preset, create an rr context and a renderer with an attached
// output. The returned function releases everything.
func setupRenderer(ctx *cli.Context) (*integrator.Renderer, *integrator.Output, func(), error) {
	frameW, frameH := uint32(ctx.Int("width")), uint32(ctx.Int("height"))
	if frameW == 0 || frameH == 0 {
		return nil, nil, nil, fmt.Errorf("invalid frame dimensions %dx%d", frameW, frameH)
	}

	sc, err := scene.NewPreset(ctx.String("scene"))
	if err != nil {
		return nil, nil, nil, err
	}
	sc.Camera.SetupProjection(float32(frameW) / float32(frameH))

	rctx, err := createContext(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	info, err := rr.GetDeviceInfo(rctx)
	if err != nil {
		rr.DestroyContext(rctx)
		return nil, nil, nil, err
	}
	logger.Noticef("using %s device %q", ctx.String("api"), info.Name)

	r, err := integrator.New(rctx, rendererOptions(ctx))
	if err != nil {
		rr.DestroyContext(rctx)
		return nil, nil, nil, err
	}
	cleanup := func() {
		r.Close()
		rr.DestroyContext(rctx)
	}

	if err = r.Preprocess(sc); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	out, err := r.CreateOutput(frameW, frameH)
	if err == nil {
		err = r.SetOutput(out)
	}
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return r, out, cleanup, nil
}
