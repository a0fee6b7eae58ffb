// Package backendtest provides helpers and a conformance suite shared by the
// backend tests.
package backendtest

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/achilleasa/rayforge/rr/backend"
)

// Upload allocates a device buffer and fills it with data.
func Upload(t testing.TB, dev backend.Device, data []byte) backend.DevicePtr {
	t.Helper()
	ptr, err := dev.AllocateBuffer(uint64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	mapping, err := dev.Map(ptr)
	if err != nil {
		t.Fatal(err)
	}
	copy(mapping, data)
	if err = dev.Unmap(ptr, mapping); err != nil {
		t.Fatal(err)
	}
	return ptr
}

// Alloc allocates a zeroed device buffer of at least one byte.
func Alloc(t testing.TB, dev backend.Device, size uint64) backend.DevicePtr {
	t.Helper()
	if size == 0 {
		size = 1
	}
	ptr, err := dev.AllocateBuffer(size)
	if err != nil {
		t.Fatal(err)
	}
	return ptr
}

// Download returns a host copy of a device buffer.
func Download(t testing.TB, dev backend.Device, ptr backend.DevicePtr) []byte {
	t.Helper()
	mapping, err := dev.Map(ptr)
	if err != nil {
		t.Fatal(err)
	}
	data := append([]byte(nil), mapping...)
	if err = dev.Unmap(ptr, mapping); err != nil {
		t.Fatal(err)
	}
	return data
}

// SubmitAndWait submits cs and blocks until it completes.
func SubmitAndWait(t testing.TB, dev backend.Device, cs backend.CommandStream) {
	t.Helper()
	ev, err := dev.SubmitCommandStream(cs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = dev.WaitEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err = dev.ReleaseEvent(ev); err != nil {
		t.Fatal(err)
	}
}

// QuadMesh uploads a quad spanning [-1, 1] in the z=0 plane.
func QuadMesh(t testing.TB, dev backend.Device) backend.TriangleMeshBuildInfo {
	t.Helper()
	verts := []float32{-1, -1, 0, 1, -1, 0, 1, 1, 0, -1, 1, 0}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	return backend.TriangleMeshBuildInfo{
		Vertices:      Upload(t, dev, backend.Bytes(verts)),
		VertexStride:  12,
		VertexCount:   4,
		Indices:       Upload(t, dev, backend.Bytes(indices)),
		TriangleCount: 2,
		IndexType:     backend.IndexTypeUint32,
	}
}

// Translation returns a row-major 3x4 translation matrix.
func Translation(x, y, z float32) [3][4]float32 {
	return [3][4]float32{{1, 0, 0, x}, {0, 1, 0, y}, {0, 0, 1, z}}
}

// BuildScene builds one quad geometry and a scene with an instance of it per
// transform.
func BuildScene(t testing.TB, dev backend.Device, in backend.Intersector, transforms ...[3][4]float32) backend.DevicePtr {
	t.Helper()
	meshes := []backend.TriangleMeshBuildInfo{QuadMesh(t, dev)}

	geomInfo, err := in.TriangleMeshPreBuildInfo(meshes, backend.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	sceneInfo, err := in.ScenePreBuildInfo(len(transforms), backend.BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}

	temp := Alloc(t, dev, max(geomInfo.BuildScratchSize, sceneInfo.BuildScratchSize))
	geom := Alloc(t, dev, geomInfo.ResultSize)
	scene := Alloc(t, dev, sceneInfo.ResultSize)

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	defer dev.ReleaseCommandStream(cs)

	if err = in.BuildTriangleMesh(cs, meshes, backend.BuildOptions{}, temp, geom); err != nil {
		t.Fatal(err)
	}
	instances := make([]backend.InstanceBuildInfo, len(transforms))
	for i, xform := range transforms {
		instances[i] = backend.InstanceBuildInfo{Geometry: geom, Transform: xform}
	}
	if err = in.BuildScene(cs, instances, backend.BuildOptions{}, temp, scene); err != nil {
		t.Fatal(err)
	}
	SubmitAndWait(t, dev, cs)
	return scene
}

// BuildQuadScene builds a scene with a single untransformed quad.
func BuildQuadScene(t testing.TB, dev backend.Device, in backend.Intersector) backend.DevicePtr {
	t.Helper()
	return BuildScene(t, dev, in, Translation(0, 0, 0))
}

// Down returns a ray starting at z=5 pointing towards -z.
func Down(x, y float32) backend.Ray {
	return backend.Ray{Origin: [3]float32{x, y, 5}, Direction: [3]float32{0, 0, -1}, MaxT: math.MaxFloat32}
}

// Trace runs a single intersect call and returns the raw output records.
func Trace(t testing.TB, dev backend.Device, in backend.Intersector, scene backend.DevicePtr, query backend.IntersectQuery, output backend.IntersectOutput, rays []backend.Ray) []byte {
	t.Helper()
	rayPtr := Upload(t, dev, backend.Bytes(rays))
	outPtr := Alloc(t, dev, uint64(len(rays))*output.RecordSize())
	scratch := Alloc(t, dev, in.TraceMemoryRequirements(uint32(len(rays))))

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	defer dev.ReleaseCommandStream(cs)
	if err = in.Intersect(cs, scene, query, rayPtr, uint32(len(rays)), nil, output, outPtr, scratch); err != nil {
		t.Fatal(err)
	}
	SubmitAndWait(t, dev, cs)
	return Download(t, dev, outPtr)
}

// Run executes the conformance suite against a device.
func Run(t *testing.T, dev backend.Device, in backend.Intersector) {
	t.Run("FullHitAndInstanceID", func(t *testing.T) { testFullHitAndInstanceID(t, dev, in) })
	t.Run("ClosestInstance", func(t *testing.T) { testClosestInstance(t, dev, in) })
	t.Run("IndirectRayCount", func(t *testing.T) { testIndirectRayCount(t, dev, in) })
	t.Run("RayInterval", func(t *testing.T) { testRayInterval(t, dev, in) })
	t.Run("ValidatesScratchSize", func(t *testing.T) { testValidatesScratchSize(t, dev, in) })
	t.Run("ReleasedPointers", func(t *testing.T) { testReleasedPointers(t, dev) })
}

func testFullHitAndInstanceID(t *testing.T, dev backend.Device, in backend.Intersector) {
	scene := BuildQuadScene(t, dev, in)
	rays := []backend.Ray{Down(0.5, 0.25), Down(4, 4), Down(-0.5, 0.5)}

	hits := backend.View[backend.Hit](Trace(t, dev, in, scene, backend.QueryClosest, backend.OutputFullHit, rays))
	if hits[0].InstID != 0 || hits[0].PrimID == backend.InvalidID {
		t.Fatalf("expected ray 0 to hit instance 0; got %+v", hits[0])
	}
	if hits[1].InstID != backend.InvalidID || hits[1].PrimID != backend.InvalidID {
		t.Fatalf("expected ray 1 to miss; got %+v", hits[1])
	}
	if hits[2].InstID != 0 {
		t.Fatalf("expected ray 2 to hit instance 0; got %+v", hits[2])
	}
	if hits[0].UV[0] < 0 || hits[0].UV[1] < 0 || hits[0].UV[0]+hits[0].UV[1] > 1 {
		t.Fatalf("expected barycentrics inside the triangle; got %v", hits[0].UV)
	}

	ids := backend.View[uint32](Trace(t, dev, in, scene, backend.QueryAny, backend.OutputInstanceID, rays))
	if ids[0] != 0 || ids[1] != backend.InvalidID || ids[2] != 0 {
		t.Fatalf("unexpected instance id output %v", ids)
	}
}

// Two stacked quads; the one closer to the ray origin must win.
func testClosestInstance(t *testing.T, dev backend.Device, in backend.Intersector) {
	scene := BuildScene(t, dev, in, Translation(0, 0, 0), Translation(0, 0, 2), Translation(10, 0, 0))
	rays := []backend.Ray{Down(0.2, -0.3), Down(10.5, 0.5), Down(5, 0)}

	ids := backend.View[uint32](Trace(t, dev, in, scene, backend.QueryClosest, backend.OutputInstanceID, rays))
	if ids[0] != 1 {
		t.Fatalf("expected closest instance 1 for ray 0; got %d", ids[0])
	}
	if ids[1] != 2 {
		t.Fatalf("expected instance 2 for ray 1; got %d", ids[1])
	}
	if ids[2] != backend.InvalidID {
		t.Fatalf("expected ray 2 to miss; got %d", ids[2])
	}
}

func testIndirectRayCount(t *testing.T, dev backend.Device, in backend.Intersector) {
	scene := BuildQuadScene(t, dev, in)

	rays := make([]backend.Ray, 8)
	for i := range rays {
		rays[i] = Down(0.3, -0.2)
	}
	rayPtr := Upload(t, dev, backend.Bytes(rays))
	countPtr := Upload(t, dev, binary.LittleEndian.AppendUint32(nil, 3))

	// Pre-fill the output so untouched records can be detected
	idPtr := Upload(t, dev, backend.Bytes([]uint32{7, 7, 7, 7, 7, 7, 7, 7}))
	scratch := Alloc(t, dev, in.TraceMemoryRequirements(8))

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	defer dev.ReleaseCommandStream(cs)
	if err = in.Intersect(cs, scene, backend.QueryClosest, rayPtr, 8, countPtr, backend.OutputInstanceID, idPtr, scratch); err != nil {
		t.Fatal(err)
	}
	SubmitAndWait(t, dev, cs)

	ids := backend.View[uint32](Download(t, dev, idPtr))
	for i, id := range ids {
		exp := uint32(7)
		if i < 3 {
			exp = 0
		}
		if id != exp {
			t.Fatalf("expected id %d at index %d; got %d", exp, i, id)
		}
	}
}

func testRayInterval(t *testing.T, dev backend.Device, in backend.Intersector) {
	scene := BuildQuadScene(t, dev, in)

	short := Down(0, 0)
	short.MaxT = 4
	late := Down(0, 0)
	late.MinT = 6

	ids := backend.View[uint32](Trace(t, dev, in, scene, backend.QueryClosest, backend.OutputInstanceID, []backend.Ray{short, late}))
	for i, id := range ids {
		if id != backend.InvalidID {
			t.Fatalf("expected ray %d to miss due to its interval; got %d", i, id)
		}
	}
}

func testValidatesScratchSize(t *testing.T, dev backend.Device, in backend.Intersector) {
	scene := BuildQuadScene(t, dev, in)

	rayPtr := Alloc(t, dev, 4*backend.RaySize)
	hitPtr := Alloc(t, dev, 4*backend.HitSize)
	scratch := Alloc(t, dev, in.TraceMemoryRequirements(4)-1)

	cs, err := dev.AllocateCommandStream()
	if err != nil {
		t.Fatal(err)
	}
	defer dev.ReleaseCommandStream(cs)
	err = in.Intersect(cs, scene, backend.QueryClosest, rayPtr, 4, nil, backend.OutputFullHit, hitPtr, scratch)
	if !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected undersized scratch to be rejected; got %v", err)
	}
}

func testReleasedPointers(t *testing.T, dev backend.Device) {
	ptr := Alloc(t, dev, 128)
	if err := dev.ReleaseDevicePtr(ptr); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Map(ptr); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected map of released pointer to fail; got %v", err)
	}
	if err := dev.ReleaseDevicePtr(ptr); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected double release to fail; got %v", err)
	}
}
