package device

import (
	"sort"
	"strings"
	"unsafe"

	"github.com/achilleasa/gopencl/v1.2/cl"
)

const (
	platformBufferSize = 100
	deviceBufferSize   = 100
	dataBufferSize     = 1024
)

// Information about a system's opencl platform and supported devices.
type PlatformInfo struct {
	Profile    string
	Version    string
	Name       string
	Vendor     string
	Extensions string
	Devices    []*Device
}

// Run an info query into data and return the result as a string.
func queryString(data []byte, query func(ptr unsafe.Pointer, dataLen *uint64)) string {
	var dataLen uint64
	query(unsafe.Pointer(&data[0]), &dataLen)
	if dataLen == 0 {
		return ""
	}
	return string(data[0 : dataLen-1])
}

// Get information about supported opencl platforms and devices.
func GetPlatformInfo() ([]PlatformInfo, error) {
	pids := make([]cl.PlatformID, platformBufferSize)
	data := make([]byte, dataBufferSize)
	devices := make([]cl.DeviceId, deviceBufferSize)

	pidCount := uint32(0)
	cl.GetPlatformIDs(uint32(len(pids)), &pids[0], &pidCount)

	infoList := make([]PlatformInfo, int(pidCount))
	for pIdx := range infoList {
		pid := pids[pIdx]
		info := &infoList[pIdx]
		info.Profile = queryString(data, func(ptr unsafe.Pointer, n *uint64) {
			cl.GetPlatformInfo(pid, cl.PLATFORM_PROFILE, dataBufferSize, ptr, n)
		})
		info.Version = queryString(data, func(ptr unsafe.Pointer, n *uint64) {
			cl.GetPlatformInfo(pid, cl.PLATFORM_VERSION, dataBufferSize, ptr, n)
		})
		info.Name = queryString(data, func(ptr unsafe.Pointer, n *uint64) {
			cl.GetPlatformInfo(pid, cl.PLATFORM_NAME, dataBufferSize, ptr, n)
		})
		info.Vendor = queryString(data, func(ptr unsafe.Pointer, n *uint64) {
			cl.GetPlatformInfo(pid, cl.PLATFORM_VENDOR, dataBufferSize, ptr, n)
		})
		info.Extensions = queryString(data, func(ptr unsafe.Pointer, n *uint64) {
			cl.GetPlatformInfo(pid, cl.PLATFORM_EXTENSIONS, dataBufferSize, ptr, n)
		})

		for _, kind := range []struct {
			list   func(count *uint32)
			devTyp DeviceType
		}{
			{func(count *uint32) { cl.GetDeviceIDs(pid, cl.DEVICE_TYPE_CPU, uint32(deviceBufferSize), &devices[0], count) }, CpuDevice},
			{func(count *uint32) { cl.GetDeviceIDs(pid, cl.DEVICE_TYPE_GPU, uint32(deviceBufferSize), &devices[0], count) }, GpuDevice},
		} {
			deviceCount := uint32(0)
			kind.list(&deviceCount)
			for dIdx := 0; dIdx < int(deviceCount); dIdx++ {
				id := devices[dIdx]
				dev := &Device{
					Name: strings.TrimSpace(queryString(data, func(ptr unsafe.Pointer, n *uint64) {
						cl.GetDeviceInfo(id, cl.DEVICE_NAME, dataBufferSize, ptr, n)
					})),
					Vendor: queryString(data, func(ptr unsafe.Pointer, n *uint64) {
						cl.GetDeviceInfo(id, cl.DEVICE_VENDOR, dataBufferSize, ptr, n)
					}),
					Version: queryString(data, func(ptr unsafe.Pointer, n *uint64) {
						cl.GetDeviceInfo(id, cl.DEVICE_VERSION, dataBufferSize, ptr, n)
					}),
					Platform: info.Name,
					Id:       id,
					Type:     kind.devTyp,
				}
				if err := dev.detectSpeed(); err != nil {
					return nil, err
				}
				info.Devices = append(info.Devices, dev)
			}
		}
	}

	return infoList, nil
}

// Scan all available opencl platforms and select devices that match the
// given query. Devices are sorted by estimated speed, fastest first.
func SelectDevices(typeMask DeviceType, matchName string) ([]*Device, error) {
	platforms, err := GetPlatformInfo()
	if err != nil {
		return nil, err
	}
	var list []*Device
	for _, p := range platforms {
		for _, d := range p.Devices {
			if d.Type&typeMask != d.Type {
				continue
			}
			if matchName != "" && !strings.Contains(d.Name, matchName) {
				continue
			}
			list = append(list, d)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Speed > list[j].Speed
	})
	return list, nil
}
