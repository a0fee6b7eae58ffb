package cmd

import (
	"github.com/achilleasa/rayforge/log"
	"github.com/urfave/cli"
)

var logger = log.New("rayforge")

func setupLogging(ctx *cli.Context) error {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}

	if logFile := ctx.GlobalString("log-file"); logFile != "" {
		return log.SetSinkFile(logFile)
	}
	return nil
}
