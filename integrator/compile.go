package integrator

import (
	"fmt"
	"time"

	"github.com/achilleasa/rayforge/integrator/envmap"
	"github.com/achilleasa/rayforge/rr"
	"github.com/achilleasa/rayforge/rr/backend"
	"github.com/achilleasa/rayforge/scene"
	"github.com/achilleasa/rayforge/types"
)

// Device layout of a scene shape.
type shapeData struct {
	StartIdx    uint32
	NumPrims    uint32
	StartVtx    uint32
	NumVertices uint32
	Material    uint32
	Flags       uint32
	_           [2]uint32

	// Object to world transform and its inverse.
	Transform types.Mat3x4
	Inverse   types.Mat3x4
}

// The scene as uploaded to the device.
type compiledScene struct {
	camera *scene.Camera

	numShapes uint32

	// Geometry and shading data.
	vertices  *buffer
	normals   *buffer
	indices   *buffer
	shapes    *buffer
	materials *buffer

	// The scene volume; nil if the scene has none or volumes are disabled.
	volume *buffer

	// Environment texels and the importance sampling tables built over them.
	envTexels *buffer
	env       *envmap.Map

	// Acceleration structures.
	geometries []*buffer
	accel      *buffer
}

func (cs *compiledScene) buffers() []*buffer {
	list := []*buffer{cs.vertices, cs.normals, cs.indices, cs.shapes, cs.materials, cs.volume, cs.envTexels, cs.accel}
	return append(list, cs.geometries...)
}

func (cs *compiledScene) memory() uint64 {
	var total uint64
	for _, b := range cs.buffers() {
		if b != nil {
			total += b.size
		}
	}
	return total
}

func (r *Renderer) releaseScene() {
	if r.scene == nil {
		return
	}
	for _, b := range r.scene.buffers() {
		r.release(b)
	}
	r.scene = nil
}

// Build one geometry per shape and a scene with one instance per shape so
// that instance ids map back to shape indices. Blocks until the builds
// complete.
func (r *Renderer) buildAccelerationStructures(sc *scene.Scene, cs *compiledScene) error {
	start := time.Now()

	stream, err := rr.AllocateCommandStream(r.ctx)
	if err != nil {
		return err
	}
	defer rr.ReleaseCommandStream(r.ctx, stream)

	// Build inputs and scratch memory must outlive the submission.
	var temps []*buffer
	defer func() {
		for _, b := range temps {
			r.release(b)
		}
	}()

	opts := &rr.BuildOptions{}
	instances := make([]rr.Instance, len(sc.Shapes))
	for i, shape := range sc.Shapes {
		vertices, err := upload(r, fmt.Sprintf("shape %d vertices", i), sc.ShapeVertices(i))
		if err != nil {
			return err
		}
		temps = append(temps, vertices)
		indices, err := upload(r, fmt.Sprintf("shape %d indices", i), sc.ShapeIndices(i))
		if err != nil {
			return err
		}
		temps = append(temps, indices)

		input := &rr.GeometryBuildInput{
			PrimitiveType: rr.PrimitiveTypeTriangleMesh,
			TriangleMeshes: []rr.TriangleMeshPrimitive{{
				Vertices:        vertices.ptr,
				VertexCount:     shape.NumVertices,
				VertexStride:    uint32(sizeof[types.Vec3]()),
				TriangleIndices: indices.ptr,
				TriangleCount:   shape.NumPrims,
				IndexType:       rr.IndexTypeUint32,
			}},
		}
		req, err := rr.GetGeometryBuildMemoryRequirements(r.ctx, input, opts)
		if err != nil {
			return fmt.Errorf("integrator: shape %q: %w", shape.Name, err)
		}
		geom, err := r.allocate(fmt.Sprintf("shape %d geometry", i), req.ResultBufferSize)
		if err != nil {
			return err
		}
		cs.geometries = append(cs.geometries, geom)
		temp, err := r.allocate(fmt.Sprintf("shape %d build scratch", i), req.TemporaryBuildBufferSize)
		if err != nil {
			return err
		}
		temps = append(temps, temp)

		if err = rr.CmdBuildGeometry(r.ctx, rr.BuildOperationBuild, input, opts, temp.ptr, geom.ptr, stream); err != nil {
			return fmt.Errorf("integrator: shape %q: %w", shape.Name, err)
		}
		instances[i] = rr.Instance{Geometry: geom.ptr, Transform: [3][4]float32(shape.Transform)}
	}

	input := &rr.SceneBuildInput{Instances: instances}
	req, err := rr.GetSceneBuildMemoryRequirements(r.ctx, input, opts)
	if err != nil {
		return err
	}
	if cs.accel, err = r.allocate("scene", req.ResultBufferSize); err != nil {
		return err
	}
	temp, err := r.allocate("scene build scratch", req.TemporaryBuildBufferSize)
	if err != nil {
		return err
	}
	temps = append(temps, temp)
	if err = rr.CmdBuildScene(r.ctx, input, opts, temp.ptr, cs.accel.ptr, stream); err != nil {
		return err
	}

	event, err := rr.SubmitCommandStream(r.ctx, stream, 0)
	if err != nil {
		return err
	}
	defer rr.ReleaseEvent(r.ctx, event)
	if err = rr.WaitEvent(r.ctx, event); err != nil {
		return err
	}

	logger.Noticef("committed %d shapes in %d ms", len(sc.Shapes), time.Since(start).Nanoseconds()/1000000)
	return nil
}

// Upload the geometry and shading data used by the shading kernels.
func (r *Renderer) compileScene(sc *scene.Scene, cs *compiledScene) error {
	var err error

	shapes := make([]shapeData, len(sc.Shapes))
	for i, shape := range sc.Shapes {
		inv, ok := shape.Transform.Inverse()
		if !ok {
			return fmt.Errorf("integrator: shape %q has a singular transform", shape.Name)
		}
		shapes[i] = shapeData{
			StartIdx:    shape.StartIdx,
			NumPrims:    shape.NumPrims,
			StartVtx:    shape.StartVtx,
			NumVertices: shape.NumVertices,
			Material:    shape.Material,
			Flags:       shape.Flags,
			Transform:   shape.Transform,
			Inverse:     inv,
		}
	}
	cs.numShapes = uint32(len(shapes))

	if cs.vertices, err = upload(r, "vertices", sc.Vertices); err != nil {
		return err
	}
	if cs.normals, err = upload(r, "normals", sc.Normals); err != nil {
		return err
	}
	if cs.indices, err = upload(r, "indices", sc.Indices); err != nil {
		return err
	}
	if cs.shapes, err = upload(r, "shapes", shapes); err != nil {
		return err
	}
	if cs.materials, err = upload(r, "materials", sc.Materials); err != nil {
		return err
	}
	if sc.Volume != nil && !r.opts.DisableVolume {
		if cs.volume, err = upload(r, "volume", []scene.Volume{*sc.Volume}); err != nil {
			return err
		}
	}

	logger.Infof("compiled %d shapes, %d triangles and %d materials", len(sc.Shapes), len(sc.Indices)/3, len(sc.Materials))
	return nil
}

// Upload the environment texels and build the importance sampling tables
// over the device copy.
func (r *Renderer) bakeTextures(sc *scene.Scene, cs *compiledScene) error {
	env := sc.Environment
	if env == nil {
		return nil
	}

	var err error
	if cs.envTexels, err = upload(r, "environment", env.Texels); err != nil {
		return err
	}

	mem, err := rr.MapDevicePtr(r.ctx, cs.envTexels.ptr)
	if err != nil {
		return fmt.Errorf("integrator: mapping environment: %w", err)
	}
	if cs.env, err = envmap.New(env.Width, env.Height, backend.View[types.Vec3](mem), env.Multiplier); err != nil {
		return fmt.Errorf("integrator: %w", err)
	}

	logger.Infof("baked %dx%d environment map", env.Width, env.Height)
	return nil
}
