package rr

import (
	"fmt"

	"github.com/achilleasa/rayforge/rr/backend"
)

// Translate a geometry build input into backend mesh descriptors.
func (c *contextState) meshes(input *GeometryBuildInput) ([]backend.TriangleMeshBuildInfo, error) {
	if input == nil {
		return nil, invalidf("nil build input")
	}
	switch input.PrimitiveType {
	case PrimitiveTypeTriangleMesh:
	case PrimitiveTypeAABBList:
		return nil, fmt.Errorf("aabb list geometry: %w", ErrNotImplemented)
	default:
		return nil, invalidf("unknown primitive type %d", int(input.PrimitiveType))
	}
	if len(input.TriangleMeshes) == 0 {
		return nil, invalidf("no triangle meshes")
	}

	meshes := make([]backend.TriangleMeshBuildInfo, len(input.TriangleMeshes))
	for i, m := range input.TriangleMeshes {
		if m.TriangleCount == 0 || m.VertexCount == 0 {
			return nil, invalidf("mesh %d: empty mesh", i)
		}
		if m.IndexType != IndexTypeUint32 && m.IndexType != IndexTypeUint16 {
			return nil, invalidf("mesh %d: unknown index type %d", i, int(m.IndexType))
		}
		vertices, err := c.devicePtr(m.Vertices, fmt.Sprintf("mesh %d vertices", i))
		if err != nil {
			return nil, err
		}
		indices, err := c.devicePtr(m.TriangleIndices, fmt.Sprintf("mesh %d indices", i))
		if err != nil {
			return nil, err
		}
		meshes[i] = backend.TriangleMeshBuildInfo{
			Vertices:      vertices,
			VertexStride:  m.VertexStride,
			VertexCount:   m.VertexCount,
			Indices:       indices,
			TriangleCount: m.TriangleCount,
			IndexType:     m.IndexType,
		}
	}
	return meshes, nil
}

func buildOptions(opts *BuildOptions) backend.BuildOptions {
	if opts == nil {
		return backend.BuildOptions{}
	}
	return *opts
}

// GetGeometryBuildMemoryRequirements reports the temporary and result
// buffer sizes needed to build a geometry.
func GetGeometryBuildMemoryRequirements(ctx Context, input *GeometryBuildInput, opts *BuildOptions) (MemoryRequirements, error) {
	var req MemoryRequirements
	err := withContext("GetGeometryBuildMemoryRequirements", ctx, func(c *contextState) error {
		meshes, err := c.meshes(input)
		if err != nil {
			return err
		}
		info, err := c.intersector.TriangleMeshPreBuildInfo(meshes, buildOptions(opts))
		if err != nil {
			return err
		}
		req = MemoryRequirements{
			TemporaryBuildBufferSize:  info.BuildScratchSize,
			TemporaryUpdateBufferSize: info.UpdateScratchSize,
			ResultBufferSize:          info.ResultSize,
		}
		return nil
	})
	return req, err
}

// CmdBuildGeometry records a geometry build or update. The temporary
// buffer contents are undefined after the command completes. Updates need
// a geometry built with BuildFlagAllowUpdate and the same topology; temp
// may be null when the update needs no temporary memory.
func CmdBuildGeometry(ctx Context, op BuildOperation, input *GeometryBuildInput, opts *BuildOptions, temp, geom DevicePtr, stream CommandStream) error {
	return withContext("CmdBuildGeometry", ctx, func(c *contextState) error {
		meshes, err := c.meshes(input)
		if err != nil {
			return err
		}
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		geomPtr, err := c.devicePtr(geom, "geometry")
		if err != nil {
			return err
		}

		switch op {
		case BuildOperationBuild:
			tempPtr, err := c.devicePtr(temp, "temporary buffer")
			if err != nil {
				return err
			}
			return c.intersector.BuildTriangleMesh(cs, meshes, buildOptions(opts), tempPtr, geomPtr)
		case BuildOperationUpdate:
			tempPtr, err := c.optionalDevicePtr(temp, "temporary buffer")
			if err != nil {
				return err
			}
			return c.intersector.UpdateTriangleMesh(cs, meshes, buildOptions(opts), tempPtr, geomPtr)
		}
		return invalidf("unknown build operation %d", int(op))
	})
}

func (c *contextState) instances(input *SceneBuildInput) ([]backend.InstanceBuildInfo, error) {
	if input == nil {
		return nil, invalidf("nil build input")
	}
	instances := make([]backend.InstanceBuildInfo, len(input.Instances))
	for i, inst := range input.Instances {
		geom, err := c.devicePtr(inst.Geometry, fmt.Sprintf("instance %d geometry", i))
		if err != nil {
			return nil, err
		}
		instances[i] = backend.InstanceBuildInfo{Geometry: geom, Transform: inst.Transform}
	}
	return instances, nil
}

// GetSceneBuildMemoryRequirements reports the temporary and result buffer
// sizes needed to build a scene.
func GetSceneBuildMemoryRequirements(ctx Context, input *SceneBuildInput, opts *BuildOptions) (MemoryRequirements, error) {
	var req MemoryRequirements
	err := withContext("GetSceneBuildMemoryRequirements", ctx, func(c *contextState) error {
		if input == nil {
			return invalidf("nil build input")
		}
		info, err := c.intersector.ScenePreBuildInfo(len(input.Instances), buildOptions(opts))
		if err != nil {
			return err
		}
		req = MemoryRequirements{
			TemporaryBuildBufferSize:  info.BuildScratchSize,
			TemporaryUpdateBufferSize: info.UpdateScratchSize,
			ResultBufferSize:          info.ResultSize,
		}
		return nil
	})
	return req, err
}

// CmdBuildScene records a scene build over a set of instances. Instance
// ids are assigned in input order.
func CmdBuildScene(ctx Context, input *SceneBuildInput, opts *BuildOptions, temp, scene DevicePtr, stream CommandStream) error {
	return withContext("CmdBuildScene", ctx, func(c *contextState) error {
		instances, err := c.instances(input)
		if err != nil {
			return err
		}
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		tempPtr, err := c.optionalDevicePtr(temp, "temporary buffer")
		if err != nil {
			return err
		}
		scenePtr, err := c.devicePtr(scene, "scene")
		if err != nil {
			return err
		}
		return c.intersector.BuildScene(cs, instances, buildOptions(opts), tempPtr, scenePtr)
	})
}
