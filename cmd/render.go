package cmd

import (
	"bytes"
	"time"

	"github.com/achilleasa/rayforge/integrator"
	"github.com/urfave/cli"
)

// Render a still frame of a scene preset.
func RenderFrame(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	r, out, cleanup, err := setupRenderer(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	spp := max(ctx.Int("spp"), 1)
	aoRadius := float32(ctx.Float64("ao"))
	if aoRadius > 0 {
		logger.Noticef("rendering %dx%d ambient occlusion frame (radius %.2f, %d spp)", out.Width(), out.Height(), aoRadius, spp)
	} else {
		logger.Noticef("rendering %dx%d frame (%d spp)", out.Width(), out.Height(), spp)
	}

	start := time.Now()
	for sample := 0; sample < spp; sample++ {
		if aoRadius > 0 {
			err = r.RenderAmbientOcclusion(aoRadius)
		} else {
			err = r.Render()
		}
		if err != nil {
			return err
		}
	}
	logger.Noticef("rendered frame in %d ms", time.Since(start).Nanoseconds()/1000000)

	// Display stats for the last sample
	displayFrameStats(r.Stats())

	return writeImage(ctx.String("out"), out.Image)
}

func displayFrameStats(stats integrator.FrameStats) {
	var buf bytes.Buffer
	stats.Print(&buf)
	logger.Noticef("frame statistics\n%s", buf.String())
}
