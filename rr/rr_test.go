package rr

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/achilleasa/rayforge/rr/backend"
	_ "github.com/achilleasa/rayforge/rr/backend/cpu"
)

func createTestContext(t *testing.T) Context {
	t.Helper()
	ctx, err := CreateContext(APIVersion, APICPU, WithHeapSize(8<<20))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { DestroyContext(ctx) })
	return ctx
}

func upload(t *testing.T, ctx Context, data []byte) DevicePtr {
	t.Helper()
	ptr, err := AllocateDeviceBuffer(ctx, uint64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	mapping, err := MapDevicePtr(ctx, ptr)
	if err != nil {
		t.Fatal(err)
	}
	copy(mapping, data)
	if err = UnmapDevicePtr(ctx, ptr, mapping); err != nil {
		t.Fatal(err)
	}
	return ptr
}

func alloc(t *testing.T, ctx Context, size uint64) DevicePtr {
	t.Helper()
	ptr, err := AllocateDeviceBuffer(ctx, max(size, 1))
	if err != nil {
		t.Fatal(err)
	}
	return ptr
}

func submitAndWait(t *testing.T, ctx Context, stream CommandStream) {
	t.Helper()
	ev, err := SubmitCommandStream(ctx, stream, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err = WaitEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err = ReleaseEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
}

func quadVertices(dx float32) []float32 {
	return []float32{-1 + dx, -1, 0, 1 + dx, -1, 0, 1 + dx, 1, 0, -1 + dx, 1, 0}
}

func quadInput(vertices, indices DevicePtr) *GeometryBuildInput {
	return &GeometryBuildInput{
		PrimitiveType: PrimitiveTypeTriangleMesh,
		TriangleMeshes: []TriangleMeshPrimitive{{
			Vertices:        vertices,
			VertexCount:     4,
			VertexStride:    12,
			TriangleIndices: indices,
			TriangleCount:   2,
			IndexType:       IndexTypeUint32,
		}},
	}
}

var identity = [3][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}

// Build the scene for a single geometry.
func buildScene(t *testing.T, ctx Context, stream CommandStream, geom DevicePtr) DevicePtr {
	t.Helper()
	input := &SceneBuildInput{Instances: []Instance{{Geometry: geom, Transform: identity}}}
	req, err := GetSceneBuildMemoryRequirements(ctx, input, nil)
	if err != nil {
		t.Fatal(err)
	}
	scene := alloc(t, ctx, req.ResultBufferSize)
	temp := alloc(t, ctx, req.TemporaryBuildBufferSize)
	if err = CmdBuildScene(ctx, input, nil, temp, scene, stream); err != nil {
		t.Fatal(err)
	}
	return scene
}

func traceIDs(t *testing.T, ctx Context, scene DevicePtr, rays []Ray) []uint32 {
	t.Helper()
	stream, err := AllocateCommandStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseCommandStream(ctx, stream)

	scratchSize, err := GetTraceMemoryRequirements(ctx, uint32(len(rays)))
	if err != nil {
		t.Fatal(err)
	}
	rayPtr := upload(t, ctx, backend.Bytes(rays))
	ids := make([]uint32, len(rays))
	idPtr, err := GetDevicePtrFromHostSlice(ctx, backend.Bytes(ids))
	if err != nil {
		t.Fatal(err)
	}
	scratch := alloc(t, ctx, scratchSize)

	if err = CmdIntersect(ctx, scene, IntersectQueryClosest, rayPtr, uint32(len(rays)), 0, IntersectQueryOutputInstanceID, idPtr, scratch, stream); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, ctx, stream)
	return ids
}

func down(x, y float32) Ray {
	return Ray{Origin: [3]float32{x, y, 5}, Direction: [3]float32{0, 0, -1}, MaxT: math.MaxFloat32}
}

func TestCreateContextVersionCheck(t *testing.T) {
	specs := []struct {
		version uint32
		api     API
		exp     error
	}{
		{APIVersion, APICPU, nil},
		{APIVersion + 5, APICPU, nil},
		{APIVersion + 1000, APICPU, ErrInvalidAPIVersion},
		{APIVersion + 1000000, APICPU, ErrInvalidAPIVersion},
		{APIVersion, APIDX, ErrUnsupportedAPI},
		{APIVersion, APIHIP, ErrUnsupportedAPI},
		{APIVersion, API(42), ErrUnsupportedAPI},
	}

	for specIndex, spec := range specs {
		ctx, err := CreateContext(spec.version, spec.api, WithHeapSize(1<<20))
		if spec.exp == nil {
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
			if api, _ := GetContextAPI(ctx); api != spec.api {
				t.Fatalf("[spec %d] expected context api %s; got %s", specIndex, spec.api, api)
			}
			DestroyContext(ctx)
			continue
		}
		if !errors.Is(err, spec.exp) {
			t.Fatalf("[spec %d] expected error %v; got %v", specIndex, spec.exp, err)
		}
		if ctx != 0 {
			t.Fatalf("[spec %d] expected a null context on failure", specIndex)
		}
	}
}

func TestBuildAndIntersect(t *testing.T) {
	ctx := createTestContext(t)
	stream, err := AllocateCommandStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseCommandStream(ctx, stream)

	input := quadInput(upload(t, ctx, backend.Bytes(quadVertices(0))), upload(t, ctx, backend.Bytes([]uint32{0, 1, 2, 0, 2, 3})))
	req, err := GetGeometryBuildMemoryRequirements(ctx, input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.ResultBufferSize == 0 || req.TemporaryBuildBufferSize == 0 {
		t.Fatalf("unexpected memory requirements %+v", req)
	}
	geom := alloc(t, ctx, req.ResultBufferSize)
	temp := alloc(t, ctx, req.TemporaryBuildBufferSize)
	if err = CmdBuildGeometry(ctx, BuildOperationBuild, input, nil, temp, geom, stream); err != nil {
		t.Fatal(err)
	}
	scene := buildScene(t, ctx, stream, geom)
	submitAndWait(t, ctx, stream)

	rays := []Ray{down(0.3, -0.2), down(3, 3)}
	hits := make([]Hit, len(rays))
	hitPtr, err := GetDevicePtrFromHostSlice(ctx, backend.Bytes(hits))
	if err != nil {
		t.Fatal(err)
	}
	scratchSize, _ := GetTraceMemoryRequirements(ctx, uint32(len(rays)))
	scratch := alloc(t, ctx, scratchSize)
	if err = CmdIntersect(ctx, scene, IntersectQueryClosest, upload(t, ctx, backend.Bytes(rays)), uint32(len(rays)), 0, IntersectQueryOutputFullHit, hitPtr, scratch, stream); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, ctx, stream)

	if hits[0].InstID != 0 || hits[0].PrimID == InvalidID {
		t.Fatalf("expected ray 0 to hit the quad; got %+v", hits[0])
	}
	if hits[1].InstID != InvalidID || hits[1].PrimID != InvalidID || hits[1].UV != [2]float32{} {
		t.Fatalf("expected ray 1 to produce a miss record; got %+v", hits[1])
	}
}

func TestGeometryUpdate(t *testing.T) {
	ctx := createTestContext(t)
	stream, err := AllocateCommandStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseCommandStream(ctx, stream)

	vertices := upload(t, ctx, backend.Bytes(quadVertices(0)))
	input := quadInput(vertices, upload(t, ctx, backend.Bytes([]uint32{0, 1, 2, 0, 2, 3})))
	opts := &BuildOptions{Flags: BuildFlagAllowUpdate}
	req, err := GetGeometryBuildMemoryRequirements(ctx, input, opts)
	if err != nil {
		t.Fatal(err)
	}
	geom := alloc(t, ctx, req.ResultBufferSize)
	if err = CmdBuildGeometry(ctx, BuildOperationBuild, input, opts, alloc(t, ctx, req.TemporaryBuildBufferSize), geom, stream); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, ctx, stream)

	// Move the quad 5 units along x and refit.
	mapping, err := MapDevicePtr(ctx, vertices)
	if err != nil {
		t.Fatal(err)
	}
	copy(mapping, backend.Bytes(quadVertices(5)))
	if err = UnmapDevicePtr(ctx, vertices, mapping); err != nil {
		t.Fatal(err)
	}

	var temp DevicePtr
	if req.TemporaryUpdateBufferSize != 0 {
		temp = alloc(t, ctx, req.TemporaryUpdateBufferSize)
	}
	if err = CmdBuildGeometry(ctx, BuildOperationUpdate, input, opts, temp, geom, stream); err != nil {
		t.Fatal(err)
	}
	scene := buildScene(t, ctx, stream, geom)
	submitAndWait(t, ctx, stream)

	ids := traceIDs(t, ctx, scene, []Ray{down(0.3, -0.2), down(5.3, -0.2)})
	if ids[0] != InvalidID || ids[1] != 0 {
		t.Fatalf("expected only the ray over the moved quad to hit; got %v", ids)
	}
}

func TestUpdateRequiresAllowUpdateFlag(t *testing.T) {
	ctx := createTestContext(t)
	stream, _ := AllocateCommandStream(ctx)
	defer ReleaseCommandStream(ctx, stream)

	input := quadInput(upload(t, ctx, backend.Bytes(quadVertices(0))), upload(t, ctx, backend.Bytes([]uint32{0, 1, 2, 0, 2, 3})))
	req, _ := GetGeometryBuildMemoryRequirements(ctx, input, nil)
	geom := alloc(t, ctx, req.ResultBufferSize)
	if err := CmdBuildGeometry(ctx, BuildOperationBuild, input, nil, alloc(t, ctx, req.TemporaryBuildBufferSize), geom, stream); err != nil {
		t.Fatal(err)
	}
	if err := CmdBuildGeometry(ctx, BuildOperationUpdate, input, nil, 0, geom, stream); err != nil {
		t.Fatal(err)
	}

	// The refit fails when executed.
	ev, err := SubmitCommandStream(ctx, stream, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEvent(ctx, ev)
	if err = WaitEvent(ctx, ev); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected update of a static geometry to fail; got %v", err)
	}
}

func TestBuildInputValidation(t *testing.T) {
	ctx := createTestContext(t)
	vertices := upload(t, ctx, backend.Bytes(quadVertices(0)))
	indices := upload(t, ctx, backend.Bytes([]uint32{0, 1, 2, 0, 2, 3}))

	aabbs := &GeometryBuildInput{PrimitiveType: PrimitiveTypeAABBList, AABBLists: []AABBListPrimitive{{AABBs: vertices, AABBCount: 1, AABBStride: 24}}}
	if _, err := GetGeometryBuildMemoryRequirements(ctx, aabbs, nil); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected aabb input to be unimplemented; got %v", err)
	}

	empty := quadInput(vertices, indices)
	empty.TriangleMeshes[0].TriangleCount = 0
	badIndex := quadInput(vertices, indices)
	badIndex.TriangleMeshes[0].IndexType = IndexType(9)
	nullVertices := quadInput(0, indices)

	for specIndex, input := range []*GeometryBuildInput{nil, {PrimitiveType: PrimitiveTypeTriangleMesh}, empty, badIndex, nullVertices} {
		if _, err := GetGeometryBuildMemoryRequirements(ctx, input, nil); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("[spec %d] expected invalid parameter; got %v", specIndex, err)
		}
	}

	if _, err := GetSceneBuildMemoryRequirements(ctx, nil, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected nil scene input to fail; got %v", err)
	}

	stream, _ := AllocateCommandStream(ctx)
	defer ReleaseCommandStream(ctx, stream)
	if err := CmdBuildGeometry(ctx, BuildOperation(0), quadInput(vertices, indices), nil, vertices, vertices, stream); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected unknown build operation to fail; got %v", err)
	}
}

func TestEmptySceneMisses(t *testing.T) {
	ctx := createTestContext(t)
	stream, _ := AllocateCommandStream(ctx)
	defer ReleaseCommandStream(ctx, stream)

	req, err := GetSceneBuildMemoryRequirements(ctx, &SceneBuildInput{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	scene := alloc(t, ctx, req.ResultBufferSize)
	if err = CmdBuildScene(ctx, &SceneBuildInput{}, nil, 0, scene, stream); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, ctx, stream)

	if ids := traceIDs(t, ctx, scene, []Ray{down(0, 0)}); ids[0] != InvalidID {
		t.Fatalf("expected a miss against an empty scene; got %d", ids[0])
	}
}

func TestTraceMemoryRequirementsAreMonotonic(t *testing.T) {
	ctx := createTestContext(t)
	var prev uint64
	for _, count := range []uint32{0, 1, 2, 64, 1000, 1 << 20} {
		size, err := GetTraceMemoryRequirements(ctx, count)
		if err != nil {
			t.Fatal(err)
		}
		if size < prev {
			t.Fatalf("expected trace memory for %d rays to be at least %d; got %d", count, prev, size)
		}
		prev = size
	}
}

func TestHandleValidation(t *testing.T) {
	ctx := createTestContext(t)
	other := createTestContext(t)

	ptr := alloc(t, ctx, 64)
	if _, err := MapDevicePtr(other, ptr); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected foreign device pointer to be rejected; got %v", err)
	}
	if _, err := MapDevicePtr(ctx, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected null device pointer to be rejected; got %v", err)
	}
	if err := ReleaseDevicePtr(ctx, ptr); err != nil {
		t.Fatal(err)
	}
	if _, err := MapDevicePtr(ctx, ptr); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected stale device pointer to be rejected; got %v", err)
	}

	// A recycled slot must not resurrect the stale handle.
	fresh := alloc(t, ctx, 64)
	if fresh == ptr {
		t.Fatal("expected recycled handle to carry a new generation")
	}
	if err := ReleaseDevicePtr(ctx, ptr); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected double release to be rejected; got %v", err)
	}

	if _, err := AllocateDeviceBuffer(ctx, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected zero sized allocation to be rejected; got %v", err)
	}
	if _, err := AllocateDeviceBuffer(ctx, 1<<40); !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Fatalf("expected oversized allocation to fail; got %v", err)
	}
	if _, err := GetContextAPI(Context(ptr)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected device pointer handle to be rejected as a context; got %v", err)
	}
}

func TestDestroyContextReleasesHandles(t *testing.T) {
	ctx, err := CreateContext(APIVersion, APICPU, WithHeapSize(1<<20))
	if err != nil {
		t.Fatal(err)
	}
	ptr, _ := AllocateDeviceBuffer(ctx, 64)
	stream, _ := AllocateCommandStream(ctx)
	ev, err := SubmitCommandStream(ctx, stream, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err = DestroyContext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err = GetDeviceInfo(ctx); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected destroyed context to be rejected; got %v", err)
	}
	if err = DestroyContext(ctx); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected double destroy to be rejected; got %v", err)
	}

	// Handles owned by the destroyed context are gone.
	for _, h := range []uint64{uint64(ptr), uint64(stream), uint64(ev)} {
		if _, err = handles.get(h, kindDevicePtr, uint64(ctx)); err == nil {
			t.Fatalf("expected handle %#x to be released", h)
		}
	}
}

func TestEventsAndHostDispatch(t *testing.T) {
	ctx := createTestContext(t)
	stream, _ := AllocateCommandStream(ctx)
	defer ReleaseCommandStream(ctx, stream)

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(v int) func() error {
		return func() error {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
			return nil
		}
	}

	for i := 0; i < 3; i++ {
		if err := CmdDispatchHost(ctx, stream, fmt.Sprintf("step-%d", i), record(i)); err != nil {
			t.Fatal(err)
		}
	}
	first, err := SubmitCommandStream(ctx, stream, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err = CmdDispatchHost(ctx, stream, "step-3", record(3)); err != nil {
		t.Fatal(err)
	}
	second, err := SubmitCommandStream(ctx, stream, first)
	if err != nil {
		t.Fatal(err)
	}

	if err = WaitEvent(ctx, second); err != nil {
		t.Fatal(err)
	}
	// Waiting on a completed event returns immediately.
	for i := 0; i < 2; i++ {
		if err = WaitEvent(ctx, first); err != nil {
			t.Fatal(err)
		}
	}
	ReleaseEvent(ctx, first)
	ReleaseEvent(ctx, second)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected host commands to run in record order; got %v", order)
		}
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 host commands to run; got %d", len(order))
	}

	if err = CmdDispatchHost(ctx, stream, "nil", nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected nil host function to be rejected; got %v", err)
	}
}

func TestFailedCommandsSurfaceOnWait(t *testing.T) {
	ctx := createTestContext(t)
	stream, _ := AllocateCommandStream(ctx)
	defer ReleaseCommandStream(ctx, stream)

	if err := CmdDispatchHost(ctx, stream, "fail", func() error { return errors.New("boom") }); err != nil {
		t.Fatal(err)
	}
	ev, err := SubmitCommandStream(ctx, stream, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEvent(ctx, ev)

	err = WaitEvent(ctx, ev)
	if Code(err) != ErrInternal {
		t.Fatalf("expected an internal error; got %v", err)
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != "WaitEvent" {
		t.Fatalf("expected the error to name the failing call; got %v", err)
	}
}

func TestInteropRequiresMatchingAPI(t *testing.T) {
	ctx := createTestContext(t)

	if _, err := GetDevicePtrFromD3D12Resource(ctx, 0x1000, 0); !errors.Is(err, ErrUnsupportedInterop) {
		t.Fatalf("expected DX interop on a CPU context to fail; got %v", err)
	}
	if _, err := GetCommandStreamFromD3D12CommandList(ctx, 0x1000); !errors.Is(err, ErrUnsupportedInterop) {
		t.Fatalf("expected DX interop on a CPU context to fail; got %v", err)
	}
	if _, err := GetDevicePtrFromD3D12Resource(ctx, 0, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected null resource to be rejected; got %v", err)
	}
	if _, err := GetDevicePtrFromVkBuffer(ctx, nil, 16, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected null buffer to be rejected; got %v", err)
	}
	if _, err := GetDevicePtrFromHostSlice(ctx, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected empty host slice to be rejected; got %v", err)
	}

	host := make([]byte, 32)
	ptr, err := GetDevicePtrFromHostSlice(ctx, host)
	if err != nil {
		t.Fatal(err)
	}
	mapping, err := MapDevicePtr(ctx, ptr)
	if err != nil {
		t.Fatal(err)
	}
	mapping[3] = 7
	if host[3] != 7 {
		t.Fatal("expected the mapping of a host slice to alias it")
	}
	if err = ReleaseDevicePtr(ctx, ptr); err != nil {
		t.Fatal(err)
	}
}

func TestStreamKindChecks(t *testing.T) {
	ctx := createTestContext(t)
	stream, _ := AllocateCommandStream(ctx)

	if err := ReleaseExternalCommandStream(ctx, stream); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected internal stream release as external to fail; got %v", err)
	}
	if err := ReleaseCommandStream(ctx, stream); err != nil {
		t.Fatal(err)
	}
	if _, err := SubmitCommandStream(ctx, stream, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected released stream to be rejected; got %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	if Code(nil) != Success {
		t.Fatal("expected nil error to map to success")
	}
	if Code(fmt.Errorf("wrapped: %w", backend.ErrOutOfDeviceMemory)) != ErrOutOfDeviceMemory {
		t.Fatal("expected backend out of memory to map to ErrOutOfDeviceMemory")
	}
	if Code(errors.New("unknown")) != ErrInternal {
		t.Fatal("expected unknown errors to map to ErrInternal")
	}
	if err := SetLogLevel(LogLevel(99)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected unknown log level to be rejected; got %v", err)
	}
	if err := SetLogFile(""); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected empty log file path to be rejected; got %v", err)
	}
}
