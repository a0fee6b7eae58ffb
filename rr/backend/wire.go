package backend

import "unsafe"

// Ray is the fixed-layout ray record read by Intersect.
type Ray struct {
	Origin    [3]float32
	MinT      float32
	Direction [3]float32
	MaxT      float32
}

// Hit is the fixed-layout hit record written by Intersect when the full hit
// output is requested.
type Hit struct {
	UV     [2]float32
	InstID uint32
	PrimID uint32
}

// Wire sizes in bytes.
const (
	RaySize = 32
	HitSize = 16
)

// InvalidID marks a miss in Hit.InstID and in instance id outputs.
const InvalidID = ^uint32(0)

// IndexType selects the width of triangle indices.
type IndexType int

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

// Size of a single index in bytes.
func (t IndexType) Size() uint32 {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

// BuildFlags control acceleration structure builds.
type BuildFlags uint32

const (
	BuildFlagPreferFastBuild BuildFlags = 1
	BuildFlagAllowUpdate     BuildFlags = 2
)

// BuildOptions are passed to the build calls.
type BuildOptions struct {
	Flags BuildFlags
}

// IntersectQuery selects closest hit or any hit traversal.
type IntersectQuery int

const (
	QueryClosest IntersectQuery = 0
	QueryAny     IntersectQuery = 1
)

// IntersectOutput selects the hit record layout.
type IntersectOutput int

const (
	OutputFullHit IntersectOutput = iota
	OutputInstanceID
)

// Record size written per ray for the given output mode.
func (o IntersectOutput) RecordSize() uint64 {
	if o == OutputInstanceID {
		return 4
	}
	return HitSize
}

// View reinterprets a byte slice as a slice of T. The byte slice must be
// suitably aligned for T; device mappings always are.
func View[T any](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// Bytes reinterprets a slice of T as a byte slice.
func Bytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}
