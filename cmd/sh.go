package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/achilleasa/rayforge/integrator/sh"
	"github.com/achilleasa/rayforge/scene"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Project the environment of a scene preset onto spherical harmonics and
// optionally write out the reconstructed light probe.
func ProjectSH(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	sc, err := scene.NewPreset(ctx.String("scene"))
	if err != nil {
		return err
	}
	if sc.Environment == nil {
		return fmt.Errorf("scene %q does not define an environment", ctx.String("scene"))
	}

	start := time.Now()
	coeffs := sh.ProjectEnvironment(sc.Environment)
	if ctx.Bool("irradiance") {
		coeffs = coeffs.Irradiance()
	}
	logger.Noticef("projected %dx%d environment in %d ms", sc.Environment.Width, sc.Environment.Height, time.Since(start).Nanoseconds()/1000000)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"l", "m", "R", "G", "B"})
	for l := 0; l <= sh.MaxBand; l++ {
		for m := -l; m <= l; m++ {
			c := coeffs[sh.Index(l, m)]
			table.Append([]string{
				fmt.Sprintf("%d", l),
				fmt.Sprintf("%d", m),
				fmt.Sprintf("%.5f", c[0]),
				fmt.Sprintf("%.5f", c[1]),
				fmt.Sprintf("%.5f", c[2]),
			})
		}
	}
	table.Render()
	logger.Noticef("SH coefficients\n%s", buf.String())

	imgFile := ctx.String("out")
	if imgFile == "" {
		return nil
	}
	w, h := ctx.Int("width"), ctx.Int("height")
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid probe dimensions %dx%d", w, h)
	}
	return writeImage(imgFile, tonemap(w, h, coeffs.ReconstructLatLong(w, h), float32(ctx.Float64("exposure"))))
}
