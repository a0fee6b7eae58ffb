package bvh

import (
	"fmt"
	"unsafe"

	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

// Blob kinds.
const (
	KindGeometry uint16 = 1
	KindScene    uint16 = 2
)

const (
	blobMagic   uint32 = 0x47524652 // RFRG
	blobVersion uint16 = 1

	// Alignment of the blocks inside a blob.
	blobAlignment = 16

	HeaderSize   = 64
	TriangleSize = 48
	InstanceSize = 112
	MeshSize     = 8

	// Scratch bytes needed per primitive reference while building.
	primRefSize = 32
)

// Header prefixes every geometry and scene blob. Offsets are relative to the
// start of the blob.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       uint16
	Flags      uint32
	NodeCount  uint32
	PrimCount  uint32
	MeshCount  uint32
	NodeOffset uint32
	TotalSize  uint32
	Min        types.Vec3
	PrimOffset uint32
	Max        types.Vec3
	MeshOffset uint32
}

// Triangle is a pre-transformed triangle record referenced by geometry
// leafs. PrimID is the triangle index across all meshes of the geometry.
type Triangle struct {
	V0     types.Vec3
	PrimID uint32
	V1     types.Vec3
	MeshID uint32
	V2     types.Vec3
	_      uint32
}

// Instance is a scene record referenced by scene leafs.
type Instance struct {
	Transform      types.Mat3x4
	Inverse        types.Mat3x4
	GeometryOffset uint64
	InstanceID     uint32
	_              uint32
}

// Mesh stores the counts a geometry was built with so that updates can
// verify that the topology did not change.
type Mesh struct {
	TriangleCount uint32
	VertexCount   uint32
}

func init() {
	if unsafe.Sizeof(Header{}) != HeaderSize ||
		unsafe.Sizeof(Node{}) != NodeSize ||
		unsafe.Sizeof(Triangle{}) != TriangleSize ||
		unsafe.Sizeof(Instance{}) != InstanceSize ||
		unsafe.Sizeof(Mesh{}) != MeshSize {
		panic("bvh: unexpected record layout")
	}
}

// Compute the layout of a blob holding primCount primitives of primSize bytes.
func blobLayout(primCount, primSize, meshCount uint64) *backend.MemoryLayout {
	l := backend.NewMemoryLayout(blobAlignment)
	l.Append("header", HeaderSize)
	// A binary tree with N leafs has 2N-1 nodes; reserve 2N slots.
	l.Append("nodes", 2*primCount*NodeSize)
	l.Append("prims", primCount*primSize)
	l.Append("meshes", meshCount*MeshSize)
	return l
}

// GeometryPreBuildInfo returns the memory needed for building a geometry
// with the given number of triangles split over meshCount meshes.
func GeometryPreBuildInfo(triangleCount, meshCount uint64) backend.PreBuildInfo {
	return backend.PreBuildInfo{
		ResultSize:        blobLayout(triangleCount, TriangleSize, meshCount).Size(),
		BuildScratchSize:  backend.RoundUp(triangleCount*primRefSize, blobAlignment),
		UpdateScratchSize: 0,
	}
}

// ScenePreBuildInfo returns the memory needed for building a scene with the
// given number of instances.
func ScenePreBuildInfo(instanceCount uint64) backend.PreBuildInfo {
	return backend.PreBuildInfo{
		ResultSize:        blobLayout(instanceCount, InstanceSize, 0).Size(),
		BuildScratchSize:  backend.RoundUp(instanceCount*primRefSize, blobAlignment),
		UpdateScratchSize: 0,
	}
}

// Blob provides typed access to a geometry or scene blob.
type Blob struct {
	Header *Header
	Nodes  []Node

	// Only one of these is populated depending on the blob kind.
	Triangles []Triangle
	Instances []Instance

	Meshes []Mesh
}

// OpenHeader validates the header at the start of buf. Only the first
// HeaderSize bytes of the blob need to be present.
func OpenHeader(buf []byte) (*Header, error) {
	hdrs := backend.View[Header](buf[:min(len(buf), HeaderSize)])
	if hdrs == nil {
		return nil, fmt.Errorf("bvh: blob too small (%d bytes): %w", len(buf), backend.ErrInvalidParameter)
	}
	hdr := &hdrs[0]
	if hdr.Magic != blobMagic || hdr.Version != blobVersion {
		return nil, fmt.Errorf("bvh: bad blob signature %#x v%d: %w", hdr.Magic, hdr.Version, backend.ErrInvalidParameter)
	}
	return hdr, nil
}

// Open a blob stored at the start of buf and validate its header.
func Open(buf []byte) (*Blob, error) {
	hdr, err := OpenHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(hdr.TotalSize) > uint64(len(buf)) {
		return nil, fmt.Errorf("bvh: blob truncated; header reports %d bytes, have %d: %w", hdr.TotalSize, len(buf), backend.ErrInvalidParameter)
	}

	b := &Blob{Header: hdr}
	b.Nodes = viewN[Node](buf, hdr.NodeOffset, hdr.NodeCount)
	switch hdr.Kind {
	case KindGeometry:
		b.Triangles = viewN[Triangle](buf, hdr.PrimOffset, hdr.PrimCount)
		b.Meshes = viewN[Mesh](buf, hdr.MeshOffset, hdr.MeshCount)
	case KindScene:
		b.Instances = viewN[Instance](buf, hdr.PrimOffset, hdr.PrimCount)
	default:
		return nil, fmt.Errorf("bvh: unknown blob kind %d: %w", hdr.Kind, backend.ErrInvalidParameter)
	}
	return b, nil
}

// BBox returns the bounds stored in the blob header.
func (b *Blob) BBox() [2]types.Vec3 {
	return [2]types.Vec3{b.Header.Min, b.Header.Max}
}

// Initialize the header and typed views of a new blob inside buf.
func create(buf []byte, kind uint16, flags backend.BuildFlags, primCount, meshCount uint64) (*Blob, error) {
	var l *backend.MemoryLayout
	if kind == KindGeometry {
		l = blobLayout(primCount, TriangleSize, meshCount)
	} else {
		l = blobLayout(primCount, InstanceSize, 0)
	}

	if uint64(len(buf)) < l.Size() {
		return nil, fmt.Errorf("bvh: result buffer holds %d bytes; need %d: %w", len(buf), l.Size(), backend.ErrInvalidParameter)
	}

	nodeOff, _ := l.Offset("nodes")
	primOff, _ := l.Offset("prims")
	meshOff, _ := l.Offset("meshes")

	hdr := &backend.View[Header](buf[:HeaderSize])[0]
	*hdr = Header{
		Magic:      blobMagic,
		Version:    blobVersion,
		Kind:       kind,
		Flags:      uint32(flags),
		PrimCount:  uint32(primCount),
		MeshCount:  uint32(meshCount),
		NodeOffset: uint32(nodeOff),
		PrimOffset: uint32(primOff),
		MeshOffset: uint32(meshOff),
		TotalSize:  uint32(l.Size()),
	}

	b := &Blob{
		Header: hdr,
		Nodes:  viewN[Node](buf, hdr.NodeOffset, uint32(2*primCount)),
	}
	if kind == KindGeometry {
		b.Triangles = viewN[Triangle](buf, hdr.PrimOffset, hdr.PrimCount)
		b.Meshes = viewN[Mesh](buf, hdr.MeshOffset, hdr.MeshCount)
	} else {
		b.Instances = viewN[Instance](buf, hdr.PrimOffset, hdr.PrimCount)
	}
	return b, nil
}

func viewN[T any](buf []byte, offset, count uint32) []T {
	if count == 0 {
		return nil
	}
	var zero T
	end := uint64(offset) + uint64(count)*uint64(unsafe.Sizeof(zero))
	if end > uint64(len(buf)) {
		return nil
	}
	return backend.View[T](buf[offset:end])
}
