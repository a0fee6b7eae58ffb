// Package backend defines the contract between the rr API and the device
// specific implementations. Each backend provides one concrete Device and one
// Intersector and registers a factory for its API tag.
package backend

import (
	"errors"
	"fmt"
)

// API identifies a backend implementation.
type API int

// The supported API tags.
const (
	APIDX  API = 1
	APIVK  API = 2
	APIHIP API = 3
	APICL  API = 4
	APICPU API = 5
)

func (a API) String() string {
	switch a {
	case APIDX:
		return "dx12"
	case APIVK:
		return "vulkan"
	case APIHIP:
		return "hip"
	case APICL:
		return "opencl"
	case APICPU:
		return "cpu"
	}
	return fmt.Sprintf("api(%d)", int(a))
}

// Errors reported by backends. The rr layer maps them onto its error codes.
var (
	ErrNotImplemented     = errors.New("backend: not implemented")
	ErrInvalidParameter   = errors.New("backend: invalid parameter")
	ErrOutOfDeviceMemory  = errors.New("backend: out of device memory")
	ErrOutOfHostMemory    = errors.New("backend: out of host memory")
	ErrUnsupportedAPI     = errors.New("backend: unsupported api")
	ErrUnsupportedInterop = errors.New("backend: unsupported interop")
	ErrDeviceClosed       = errors.New("backend: device closed")
)

// DevicePtr is a range of device memory.
type DevicePtr interface {
	// The API of the backend that created this pointer.
	API() API

	// Number of bytes addressable through this pointer.
	Size() uint64
}

// Event is a host-waitable completion marker for a submission.
type Event interface {
	// The fence value this event waits for.
	Value() uint64

	// Check for completion without blocking.
	IsComplete() bool

	// Block until the submission completes. Returns the error reported
	// by the submission, if any.
	Wait() error
}

// CommandStream accumulates commands until it is submitted.
type CommandStream interface {
	// External streams wrap a caller-owned native queue or command buffer.
	External() bool
}

// Command is a unit of recorded work executed by the device queue.
type Command func() error

// DeviceInfo describes the device behind a backend.
type DeviceInfo struct {
	Name     string
	Vendor   string
	Version  string
	Type     string
	Units    uint32
	HeapSize uint64
	Features []string
}

// Device owns the native queue/context of a backend.
type Device interface {
	API() API
	Info() DeviceInfo

	// Buffer management.
	AllocateBuffer(size uint64) (DevicePtr, error)
	ReleaseDevicePtr(ptr DevicePtr) error
	Map(ptr DevicePtr) ([]byte, error)
	Unmap(ptr DevicePtr, mapping []byte) error

	// Interop with caller-owned native objects.
	ImportBuffer(native interface{}, size, offset uint64) (DevicePtr, error)
	ImportCommandStream(native interface{}) (CommandStream, error)

	// Command stream lifecycle.
	AllocateCommandStream() (CommandStream, error)
	ReleaseCommandStream(cs CommandStream) error
	ReleaseExternalCommandStream(cs CommandStream) error
	Record(cs CommandStream, label string, cmd Command) error
	SubmitCommandStream(cs CommandStream, wait Event) (Event, error)

	// Event lifecycle.
	ReleaseEvent(ev Event) error
	WaitEvent(ev Event) error

	Close() error
}

// PreBuildInfo reports the buffer sizes needed for an acceleration
// structure build.
type PreBuildInfo struct {
	BuildScratchSize  uint64
	UpdateScratchSize uint64
	ResultSize        uint64
}

// TriangleMeshBuildInfo describes one indexed triangle mesh.
type TriangleMeshBuildInfo struct {
	Vertices      DevicePtr
	VertexStride  uint32
	VertexCount   uint32
	Indices       DevicePtr
	TriangleCount uint32
	IndexType     IndexType
}

// InstanceBuildInfo places a built geometry into a scene.
type InstanceBuildInfo struct {
	Geometry  DevicePtr
	Transform [3][4]float32
}

// Intersector builds acceleration structures and traces rays against them.
type Intersector interface {
	TriangleMeshPreBuildInfo(meshes []TriangleMeshBuildInfo, opts BuildOptions) (PreBuildInfo, error)
	ScenePreBuildInfo(instanceCount int, opts BuildOptions) (PreBuildInfo, error)

	BuildTriangleMesh(cs CommandStream, meshes []TriangleMeshBuildInfo, opts BuildOptions, temp, geom DevicePtr) error
	UpdateTriangleMesh(cs CommandStream, meshes []TriangleMeshBuildInfo, opts BuildOptions, temp, geom DevicePtr) error
	BuildScene(cs CommandStream, instances []InstanceBuildInfo, opts BuildOptions, temp, scene DevicePtr) error

	Intersect(cs CommandStream, scene DevicePtr, query IntersectQuery, rays DevicePtr, rayCount uint32,
		indirectRayCount DevicePtr, output IntersectOutput, hits, scratch DevicePtr) error

	TraceMemoryRequirements(rayCount uint32) uint64
}

// Config is passed to backend factories.
type Config struct {
	// Size of the device heap in bytes. Zero selects the backend default.
	HeapSize uint64

	// Select the first device whose name contains this value.
	DeviceFilter string

	// A label used for logging and native object names.
	Label string
}
