package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/achilleasa/rayforge/cmd"
	"github.com/achilleasa/rayforge/scene"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	sceneFlag := cli.StringFlag{
		Name:  "scene, s",
		Value: "cornell",
		Usage: fmt.Sprintf("scene preset (%s)", strings.Join(scene.Presets(), ", ")),
	}
	deviceFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "api",
			Value: "cpu",
			Usage: "intersection api (cpu, opencl, vulkan)",
		},
		cli.StringFlag{
			Name:  "device, d",
			Usage: "only use devices whose names contain this value",
		},
		cli.IntFlag{
			Name:  "heap",
			Value: 256,
			Usage: "device heap size in MB",
		},
	}
	renderFlags := append([]cli.Flag{
		sceneFlag,
		cli.IntFlag{
			Name:  "width",
			Value: 512,
			Usage: "frame width",
		},
		cli.IntFlag{
			Name:  "height",
			Value: 512,
			Usage: "frame height",
		},
		cli.IntFlag{
			Name:  "bounces, b",
			Value: 5,
			Usage: "number of indirect ray bounces",
		},
		cli.IntFlag{
			Name:  "rr-bounces",
			Value: 3,
			Usage: "number of indirect ray bounces before applying RR (disabled if >= bounces)",
		},
		cli.IntFlag{
			Name:  "light-samples",
			Value: 1,
			Usage: "light sample pairs per path vertex",
		},
		cli.IntFlag{
			Name:  "seed",
			Usage: "sampler scramble seed",
		},
		cli.Float64Flag{
			Name:  "exposure",
			Value: 1.0,
			Usage: "camera exposure for tone-mapping",
		},
		cli.BoolTFlag{
			Name:  "volume",
			Usage: "trace the participating media of the scene",
		},
	}, deviceFlags...)

	app := cli.NewApp()
	app.Name = "rayforge"
	app.Usage = "trace rays and render scenes using a wavefront path tracer"
	app.Version = "0.1.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "append log output to this file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list-devices",
			Usage:  "list available opencl platforms and intersection devices",
			Action: cmd.ListDevices,
		},
		{
			Name:  "render",
			Usage: "render a still frame",
			Description: `
Build the acceleration structures of a scene preset, render it with the
selected intersection api and write the tonemapped frame to an image file.
The image format (png, tiff or bmp) is selected by the output file extension.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "spp",
					Value: 16,
					Usage: "samples per pixel",
				},
				cli.Float64Flag{
					Name:  "ao",
					Usage: "render ambient occlusion with this radius instead of path tracing",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			}, renderFlags...),
			Action: cmd.RenderFrame,
		},
		{
			Name:  "bench",
			Usage: "benchmark ray throughput",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "passes, p",
					Value: 10,
					Usage: "number of frames to render",
				},
			}, renderFlags...),
			Action: cmd.Benchmark,
		},
		{
			Name:  "sh",
			Usage: "project the scene environment onto spherical harmonics",
			Flags: []cli.Flag{
				sceneFlag,
				cli.BoolFlag{
					Name:  "irradiance",
					Usage: "convolve the coefficients with a cosine lobe",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 256,
					Usage: "reconstructed probe width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 128,
					Usage: "reconstructed probe height",
				},
				cli.Float64Flag{
					Name:  "exposure",
					Value: 1.0,
					Usage: "exposure for tone-mapping the probe",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "write the reconstructed lat-long probe to this image file",
				},
			},
			Action: cmd.ProjectSH,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
