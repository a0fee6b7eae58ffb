package rr

import (
	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
)

// API version.
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 1

	APIVersion uint32 = VersionMajor*1000000 + VersionMinor*1000 + VersionPatch
)

// API selects the backend of a context.
type API = backend.API

const (
	APIDX  = backend.APIDX
	APIVK  = backend.APIVK
	APIHIP = backend.APIHIP
	APICL  = backend.APICL
	APICPU = backend.APICPU
)

// LogLevel controls the verbosity of the API logger.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota + 1
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelOff
)

func (l LogLevel) level() (log.Level, bool) {
	switch l {
	case LogLevelDebug:
		return log.Debug, true
	case LogLevelInfo:
		return log.Info, true
	case LogLevelWarn:
		return log.Warning, true
	case LogLevelError:
		return log.Error, true
	case LogLevelOff:
		return log.Off, true
	}
	return 0, false
}

// Wire structs shared with the backends.
type (
	Ray = backend.Ray
	Hit = backend.Hit
)

// InvalidID marks a miss.
const InvalidID = backend.InvalidID

// Wire sizes in bytes.
const (
	RaySize = backend.RaySize
	HitSize = backend.HitSize
)

// IndexType selects the width of triangle indices.
type IndexType = backend.IndexType

const (
	IndexTypeUint32 = backend.IndexTypeUint32
	IndexTypeUint16 = backend.IndexTypeUint16
)

// BuildFlags control acceleration structure builds.
type BuildFlags = backend.BuildFlags

const (
	BuildFlagPreferFastBuild = backend.BuildFlagPreferFastBuild
	BuildFlagAllowUpdate     = backend.BuildFlagAllowUpdate
)

// BuildOptions are passed to the build calls.
type BuildOptions = backend.BuildOptions

// BuildOperation selects between a full build and a refit.
type BuildOperation int

const (
	BuildOperationBuild BuildOperation = iota + 1
	BuildOperationUpdate
)

// PrimitiveType tags the contents of a GeometryBuildInput.
type PrimitiveType int

const (
	PrimitiveTypeTriangleMesh PrimitiveType = iota
	PrimitiveTypeAABBList
)

// IntersectQuery selects closest or any hit traversal.
type IntersectQuery = backend.IntersectQuery

const (
	IntersectQueryClosest = backend.QueryClosest
	IntersectQueryAny     = backend.QueryAny
)

// IntersectQueryOutput selects the hit record layout. With
// IntersectQueryOutputInstanceID the hit buffer holds one uint32 per ray.
type IntersectQueryOutput = backend.IntersectOutput

const (
	IntersectQueryOutputFullHit    = backend.OutputFullHit
	IntersectQueryOutputInstanceID = backend.OutputInstanceID
)

// Instance places a geometry into a scene with a row-major 3x4 transform.
type Instance struct {
	Geometry  DevicePtr
	Transform [3][4]float32
}

// TriangleMeshPrimitive describes an indexed triangle mesh.
type TriangleMeshPrimitive struct {
	Vertices        DevicePtr
	VertexCount     uint32
	VertexStride    uint32
	TriangleIndices DevicePtr
	TriangleCount   uint32
	IndexType       IndexType
}

// AABBListPrimitive describes a list of boxes. Not supported by any backend.
type AABBListPrimitive struct {
	AABBs      DevicePtr
	AABBCount  uint32
	AABBStride uint32
}

// GeometryBuildInput is the input of a geometry build.
type GeometryBuildInput struct {
	PrimitiveType  PrimitiveType
	TriangleMeshes []TriangleMeshPrimitive
	AABBLists      []AABBListPrimitive
}

// SceneBuildInput is the input of a scene build.
type SceneBuildInput struct {
	Instances []Instance
}

// MemoryRequirements reports buffer sizes for a build.
type MemoryRequirements struct {
	TemporaryBuildBufferSize  uint64
	TemporaryUpdateBufferSize uint64
	ResultBufferSize          uint64
}

// DeviceInfo describes the device behind a context.
type DeviceInfo = backend.DeviceInfo
