package integrator

import "fmt"

type kernelType uint8

// The list of host kernels that implement the integrator.
const (
	initPathStream kernelType = iota
	generatePrimaryRays
	evaluateVolume
	filterPathStream
	compact
	restorePixelIndices
	shadeVolume
	shadeSurface
	shadeMiss
	gatherLightSamples
	sampleOcclusion
	gatherOcclusion
	accumulateData
	applyGammaAndCopyData
	//
	numKernels
)

// Implements Stringer; map kernel type to the label recorded into command
// streams.
func (kt kernelType) String() string {
	switch kt {
	case initPathStream:
		return "InitPathStream"
	case generatePrimaryRays:
		return "GeneratePrimaryRays"
	case evaluateVolume:
		return "EvaluateVolume"
	case filterPathStream:
		return "FilterPathStream"
	case compact:
		return "Compact"
	case restorePixelIndices:
		return "RestorePixelIndices"
	case shadeVolume:
		return "ShadeVolume"
	case shadeSurface:
		return "ShadeSurface"
	case shadeMiss:
		return "ShadeMiss"
	case gatherLightSamples:
		return "GatherLightSamples"
	case sampleOcclusion:
		return "SampleOcclusion"
	case gatherOcclusion:
		return "GatherOcclusion"
	case accumulateData:
		return "AccumulateData"
	case applyGammaAndCopyData:
		return "ApplyGammaAndCopyData"
	default:
		panic(fmt.Sprintf("Unsupported kernel type: %d", kt))
	}
}
