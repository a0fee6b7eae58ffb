//go:build !noopencl

package cmd

import (
	"bytes"
	"fmt"

	_ "github.com/achilleasa/rayforge/rr/backend/opencl"
	"github.com/achilleasa/rayforge/rr/backend/opencl/device"
)

func describeCLPlatforms(buf *bytes.Buffer) {
	clPlatforms, err := device.GetPlatformInfo()
	if err != nil {
		logger.Warningf("could not query opencl platforms: %v", err)
	}
	buf.WriteString(fmt.Sprintf("\nSystem provides %d opencl platform(s):\n\n", len(clPlatforms)))
	for pIdx, platformInfo := range clPlatforms {
		buf.WriteString(fmt.Sprintf("[Platform %02d]\n  Name    %s\n  Vendor  %s\n  Version %s\n  Profile %s\n  Devices %d\n\n", pIdx, platformInfo.Name, platformInfo.Vendor, platformInfo.Version, platformInfo.Profile, len(platformInfo.Devices)))
		for dIdx, dev := range platformInfo.Devices {
			buf.WriteString(fmt.Sprintf("  [Device %02d]\n    Name   %s\n    Type   %s\n    Units  %d\n    Memory %d MB\n    Speed  %d GFlops\n\n", dIdx, dev.Name, dev.Type, dev.ComputeUnits, dev.GlobalMem>>20, dev.Speed))
		}
	}
}
