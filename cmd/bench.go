package cmd

import (
	"bytes"

	"github.com/urfave/cli"
)

// Render a number of frames and report the ray throughput of each bounce.
func Benchmark(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	r, _, cleanup, err := setupRenderer(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := r.RunBenchmark(ctx.Int("passes"))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	res.Print(&buf)
	logger.Noticef("benchmark results\n%s", buf.String())
	return nil
}
