package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Heap used by the probe contexts created while listing devices.
const probeHeapSize = 1 << 20

// List the opencl platforms and the device bound by each registered backend.
func ListDevices(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer

	describeCLPlatforms(&buf)

	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"API", "Device", "Vendor", "Type", "Units", "Features"})
	for _, api := range backend.Registered() {
		info, err := probeDevice(api)
		if err != nil {
			table.Append([]string{api.String(), fmt.Sprintf("unavailable (%v)", err), "", "", "", ""})
			continue
		}
		table.Append([]string{
			api.String(),
			info.Name,
			info.Vendor,
			info.Type,
			fmt.Sprintf("%d", info.Units),
			strings.Join(info.Features, " "),
		})
	}
	table.Render()

	logger.Notice(buf.String())
	return nil
}

func probeDevice(api rr.API) (rr.DeviceInfo, error) {
	rctx, err := rr.CreateContext(rr.APIVersion, api, rr.WithHeapSize(probeHeapSize))
	if err != nil {
		return rr.DeviceInfo{}, err
	}
	defer rr.DestroyContext(rctx)
	return rr.GetDeviceInfo(rctx)
}
