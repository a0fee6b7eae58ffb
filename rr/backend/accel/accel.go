// Package accel records host-side acceleration structure builds for the
// backends. Backends provide access to their memory and a way to record
// commands; the builder takes care of validation, sizing and the actual
// BVH construction at execution time.
package accel

import (
	"fmt"

	"github.com/achilleasa/rayforge/bvh"
	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/types"
)

var logger = log.New("accel")

// Memory gives the builder host access to device allocations.
type Memory interface {
	// Read returns the contents of [offset, offset+size) of an allocation.
	// The returned slice may alias device memory.
	Read(alloc *backend.Allocation, offset, size uint64) ([]byte, error)

	// Write stores data at offset. Writing a slice obtained by Read back
	// to the same range must be supported.
	Write(alloc *backend.Allocation, offset uint64, data []byte) error

	// Scratch returns a host buffer of at least size bytes backed by the
	// given temp allocation if the backend can expose it directly.
	Scratch(alloc *backend.Allocation, size uint64) ([]byte, error)
}

// Recorder appends commands to a command stream.
type Recorder interface {
	Record(cs backend.CommandStream, label string, cmd backend.Command) error
}

// Builder implements the build half of backend.Intersector.
type Builder struct {
	api backend.API
	mem Memory
	rec Recorder
}

// Create a builder for the given backend.
func NewBuilder(api backend.API, mem Memory, rec Recorder) *Builder {
	return &Builder{api: api, mem: mem, rec: rec}
}

func countTriangles(meshes []backend.TriangleMeshBuildInfo) (uint64, error) {
	if len(meshes) == 0 {
		return 0, fmt.Errorf("accel: no meshes: %w", backend.ErrInvalidParameter)
	}
	var count uint64
	for i := range meshes {
		if meshes[i].TriangleCount == 0 || meshes[i].VertexCount == 0 {
			return 0, fmt.Errorf("accel: mesh %d is empty: %w", i, backend.ErrInvalidParameter)
		}
		count += uint64(meshes[i].TriangleCount)
	}
	return count, nil
}

func (b *Builder) TriangleMeshPreBuildInfo(meshes []backend.TriangleMeshBuildInfo, opts backend.BuildOptions) (backend.PreBuildInfo, error) {
	triCount, err := countTriangles(meshes)
	if err != nil {
		return backend.PreBuildInfo{}, err
	}
	return bvh.GeometryPreBuildInfo(triCount, uint64(len(meshes))), nil
}

func (b *Builder) ScenePreBuildInfo(instanceCount int, opts backend.BuildOptions) (backend.PreBuildInfo, error) {
	if instanceCount < 0 {
		return backend.PreBuildInfo{}, fmt.Errorf("accel: negative instance count: %w", backend.ErrInvalidParameter)
	}
	return bvh.ScenePreBuildInfo(uint64(instanceCount)), nil
}

// TraceMemoryRequirements returns the traversal stack size for rayCount rays.
func (b *Builder) TraceMemoryRequirements(rayCount uint32) uint64 {
	return 4 * bvh.StackSize * uint64(rayCount)
}

// A mesh whose buffers have been validated at record time.
type meshRef struct {
	info     backend.TriangleMeshBuildInfo
	vertices *backend.Allocation
	indices  *backend.Allocation
}

func (b *Builder) resolveMeshes(meshes []backend.TriangleMeshBuildInfo) ([]meshRef, error) {
	refs := make([]meshRef, len(meshes))
	for i, m := range meshes {
		if m.VertexStride < 12 {
			return nil, fmt.Errorf("accel: mesh %d vertex stride %d: %w", i, m.VertexStride, backend.ErrInvalidParameter)
		}
		vertexBytes := uint64(m.VertexCount-1)*uint64(m.VertexStride) + 12
		vertices, err := backend.AsAllocation(m.Vertices, b.api, vertexBytes)
		if err != nil {
			return nil, fmt.Errorf("mesh %d vertices: %w", i, err)
		}
		indices, err := backend.AsAllocation(m.Indices, b.api, uint64(m.TriangleCount)*3*uint64(m.IndexType.Size()))
		if err != nil {
			return nil, fmt.Errorf("mesh %d indices: %w", i, err)
		}
		refs[i] = meshRef{info: m, vertices: vertices, indices: indices}
	}
	return refs, nil
}

// Fetch the mesh buffers at execution time.
func (b *Builder) loadMeshes(refs []meshRef) ([]bvh.MeshSource, error) {
	sources := make([]bvh.MeshSource, len(refs))
	for i, ref := range refs {
		vertices, err := b.mem.Read(ref.vertices, 0, uint64(ref.info.VertexCount-1)*uint64(ref.info.VertexStride)+12)
		if err != nil {
			return nil, err
		}
		indices, err := b.mem.Read(ref.indices, 0, uint64(ref.info.TriangleCount)*3*uint64(ref.info.IndexType.Size()))
		if err != nil {
			return nil, err
		}
		sources[i] = bvh.MeshSource{
			Vertices:      vertices,
			VertexStride:  ref.info.VertexStride,
			VertexCount:   ref.info.VertexCount,
			Indices:       indices,
			IndexType:     ref.info.IndexType,
			TriangleCount: ref.info.TriangleCount,
		}
	}
	return sources, nil
}

// BuildTriangleMesh records a geometry build into geom using temp as build
// scratch memory.
func (b *Builder) BuildTriangleMesh(cs backend.CommandStream, meshes []backend.TriangleMeshBuildInfo, opts backend.BuildOptions, temp, geom backend.DevicePtr) error {
	info, err := b.TriangleMeshPreBuildInfo(meshes, opts)
	if err != nil {
		return err
	}
	refs, err := b.resolveMeshes(meshes)
	if err != nil {
		return err
	}
	tempAlloc, err := backend.AsAllocation(temp, b.api, info.BuildScratchSize)
	if err != nil {
		return fmt.Errorf("build scratch: %w", err)
	}
	geomAlloc, err := backend.AsAllocation(geom, b.api, info.ResultSize)
	if err != nil {
		return fmt.Errorf("geometry: %w", err)
	}

	return b.rec.Record(cs, "build-geometry", func() error {
		sources, err := b.loadMeshes(refs)
		if err != nil {
			return err
		}
		scratch, err := b.mem.Scratch(tempAlloc, info.BuildScratchSize)
		if err != nil {
			return err
		}
		result, err := b.mem.Read(geomAlloc, 0, info.ResultSize)
		if err != nil {
			return err
		}
		if err = bvh.BuildGeometry(sources, opts.Flags, scratch, result); err != nil {
			return err
		}
		logger.Debugf("built geometry with %d meshes and %d triangles (%d bytes)", len(sources), bvh.TriangleCount(sources), info.ResultSize)
		return b.mem.Write(geomAlloc, 0, result)
	})
}

// UpdateTriangleMesh records a refit of a geometry built with the allow
// update flag.
func (b *Builder) UpdateTriangleMesh(cs backend.CommandStream, meshes []backend.TriangleMeshBuildInfo, opts backend.BuildOptions, temp, geom backend.DevicePtr) error {
	info, err := b.TriangleMeshPreBuildInfo(meshes, opts)
	if err != nil {
		return err
	}
	refs, err := b.resolveMeshes(meshes)
	if err != nil {
		return err
	}
	if temp != nil || info.UpdateScratchSize > 0 {
		if _, err = backend.AsAllocation(temp, b.api, info.UpdateScratchSize); err != nil {
			return fmt.Errorf("update scratch: %w", err)
		}
	}
	geomAlloc, err := backend.AsAllocation(geom, b.api, info.ResultSize)
	if err != nil {
		return fmt.Errorf("geometry: %w", err)
	}

	return b.rec.Record(cs, "update-geometry", func() error {
		sources, err := b.loadMeshes(refs)
		if err != nil {
			return err
		}
		result, err := b.mem.Read(geomAlloc, 0, info.ResultSize)
		if err != nil {
			return err
		}
		if err = bvh.UpdateGeometry(sources, result); err != nil {
			return err
		}
		return b.mem.Write(geomAlloc, 0, result)
	})
}

// BuildScene records a scene build. Instance geometries must live in the
// device heap so that traversal can address them.
func (b *Builder) BuildScene(cs backend.CommandStream, instances []backend.InstanceBuildInfo, opts backend.BuildOptions, temp, scene backend.DevicePtr) error {
	info := bvh.ScenePreBuildInfo(uint64(len(instances)))

	geoms := make([]*backend.Allocation, len(instances))
	for i, inst := range instances {
		alloc, err := backend.AsAllocation(inst.Geometry, b.api, bvh.HeaderSize)
		if err != nil {
			return fmt.Errorf("instance %d geometry: %w", i, err)
		}
		if !alloc.Resident() {
			return fmt.Errorf("accel: instance %d geometry is an imported buffer: %w", i, backend.ErrInvalidParameter)
		}
		geoms[i] = alloc
	}

	var tempAlloc *backend.Allocation
	if info.BuildScratchSize > 0 {
		var err error
		if tempAlloc, err = backend.AsAllocation(temp, b.api, info.BuildScratchSize); err != nil {
			return fmt.Errorf("build scratch: %w", err)
		}
	}
	sceneAlloc, err := backend.AsAllocation(scene, b.api, info.ResultSize)
	if err != nil {
		return fmt.Errorf("scene: %w", err)
	}
	if !sceneAlloc.Resident() {
		return fmt.Errorf("accel: scene must be allocated from the device heap: %w", backend.ErrInvalidParameter)
	}

	transforms := make([]types.Mat3x4, len(instances))
	for i := range instances {
		transforms[i] = types.Mat3x4(instances[i].Transform)
	}

	return b.rec.Record(cs, "build-scene", func() error {
		sources := make([]bvh.InstanceSource, len(geoms))
		for i, geom := range geoms {
			hdr, err := b.mem.Read(geom, 0, bvh.HeaderSize)
			if err != nil {
				return err
			}
			sources[i] = bvh.InstanceSource{
				Geometry:       hdr,
				GeometryOffset: geom.Offset,
				Transform:      transforms[i],
			}
		}

		var scratch []byte
		if tempAlloc != nil {
			if scratch, err = b.mem.Scratch(tempAlloc, info.BuildScratchSize); err != nil {
				return err
			}
		}
		result, err := b.mem.Read(sceneAlloc, 0, info.ResultSize)
		if err != nil {
			return err
		}
		if err = bvh.BuildScene(sources, opts.Flags, scratch, result); err != nil {
			return err
		}
		logger.Debugf("built scene with %d instances (%d bytes)", len(sources), info.ResultSize)
		return b.mem.Write(sceneAlloc, 0, result)
	})
}

// IntersectArgs are the validated buffers of an Intersect call.
type IntersectArgs struct {
	Scene    *backend.Allocation
	Rays     *backend.Allocation
	Hits     *backend.Allocation
	Scratch  *backend.Allocation
	Count    *backend.Allocation
	RayCount uint32
	Query    backend.IntersectQuery
	Output   backend.IntersectOutput
}

// ResolveIntersect validates the arguments of an Intersect call. The scene
// must live in the device heap; the other buffers may be imported. The
// indirect ray count is optional.
func (b *Builder) ResolveIntersect(scene backend.DevicePtr, query backend.IntersectQuery, rays backend.DevicePtr, rayCount uint32,
	indirectRayCount backend.DevicePtr, output backend.IntersectOutput, hits, scratch backend.DevicePtr) (*IntersectArgs, error) {

	if query != backend.QueryClosest && query != backend.QueryAny {
		return nil, fmt.Errorf("accel: unknown query %d: %w", query, backend.ErrInvalidParameter)
	}
	if output != backend.OutputFullHit && output != backend.OutputInstanceID {
		return nil, fmt.Errorf("accel: unknown output %d: %w", output, backend.ErrInvalidParameter)
	}

	args := &IntersectArgs{RayCount: rayCount, Query: query, Output: output}
	var err error
	if args.Scene, err = backend.AsAllocation(scene, b.api, bvh.HeaderSize); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if !args.Scene.Resident() {
		return nil, fmt.Errorf("accel: scene must be allocated from the device heap: %w", backend.ErrInvalidParameter)
	}
	if args.Rays, err = backend.AsAllocation(rays, b.api, uint64(rayCount)*backend.RaySize); err != nil {
		return nil, fmt.Errorf("rays: %w", err)
	}
	if args.Hits, err = backend.AsAllocation(hits, b.api, uint64(rayCount)*output.RecordSize()); err != nil {
		return nil, fmt.Errorf("hits: %w", err)
	}
	if args.Scratch, err = backend.AsAllocation(scratch, b.api, b.TraceMemoryRequirements(rayCount)); err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	if indirectRayCount != nil {
		if args.Count, err = backend.AsAllocation(indirectRayCount, b.api, 4); err != nil {
			return nil, fmt.Errorf("indirect ray count: %w", err)
		}
	}
	return args, nil
}
