package opencl

import (
	"errors"
	"testing"

	"github.com/achilleasa/gopencl/v1.2/cl"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/rr/backend/backendtest"
)

func newTestDevice(t *testing.T) (*Device, *Intersector) {
	t.Helper()
	dev, err := NewDevice(backend.Config{HeapSize: 8 << 20, Label: t.Name()})
	if IsNoDevice(err) {
		t.Skip("no opencl device available; check that opencl drivers are installed")
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, dev.Intersector()
}

func TestConformance(t *testing.T) {
	dev, in := newTestDevice(t)
	backendtest.Run(t, dev, in)
}

func TestImportErrors(t *testing.T) {
	dev, _ := newTestDevice(t)

	if _, err := dev.ImportBuffer([]byte{1, 2, 3, 4}, 4, 0); !errors.Is(err, backend.ErrUnsupportedInterop) {
		t.Fatalf("expected host slice import to fail; got %v", err)
	}
	if _, err := dev.ImportCommandStream(42); !errors.Is(err, backend.ErrUnsupportedInterop) {
		t.Fatalf("expected command stream import to fail; got %v", err)
	}

	// Imported buffers share the heap buffer handle type.
	if _, err := dev.ImportBuffer(dev.heapBuf.Handle(), 64, 2); !errors.Is(err, backend.ErrInvalidParameter) {
		t.Fatalf("expected misaligned import to fail; got %v", err)
	}
}

func TestImportedBuffersAreBoundWithOffsets(t *testing.T) {
	dev, in := newTestDevice(t)
	scene := backendtest.BuildQuadScene(t, dev, in)

	hitBuf := dev.dev.Buffer("external-hits")
	if err := hitBuf.Allocate(64, cl.MEM_READ_WRITE); err != nil {
		t.Fatal(err)
	}
	defer hitBuf.Release()
	fill := make([]byte, 64)
	for i := range fill {
		fill[i] = 0xFF
	}
	if err := hitBuf.Write(0, fill); err != nil {
		t.Fatal(err)
	}

	hitPtr, err := dev.ImportBuffer(hitBuf.Handle(), backend.HitSize, 16)
	if err != nil {
		t.Fatal(err)
	}
	rayPtr := backendtest.Upload(t, dev, backend.Bytes([]backend.Ray{backendtest.Down(0.3, -0.2)}))
	scratch := backendtest.Alloc(t, dev, in.TraceMemoryRequirements(1))

	cs, err := dev.ImportCommandStream(dev.dev.Queue())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.ReleaseExternalCommandStream(cs)

	// External streams execute eagerly.
	if err = in.Intersect(cs, scene, backend.QueryClosest, rayPtr, 1, nil, backend.OutputFullHit, hitPtr, scratch); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 64)
	if err = hitBuf.Read(0, out); err != nil {
		t.Fatal(err)
	}
	if hit := backend.View[backend.Hit](out[16:])[0]; hit.InstID != 0 {
		t.Fatalf("expected hit written at the import offset; got %+v", hit)
	}
	if untouched := backend.View[backend.Hit](out)[0]; untouched.InstID != backend.InvalidID || untouched.PrimID != backend.InvalidID {
		t.Fatalf("expected bytes before the import offset to be untouched; got %+v", untouched)
	}
}
