package rr

// GetTraceMemoryRequirements returns the scratch buffer size CmdIntersect
// needs for rayCount rays.
func GetTraceMemoryRequirements(ctx Context, rayCount uint32) (uint64, error) {
	var size uint64
	err := withContext("GetTraceMemoryRequirements", ctx, func(c *contextState) error {
		size = c.intersector.TraceMemoryRequirements(rayCount)
		return nil
	})
	return size, err
}

// CmdIntersect records the intersection of up to rayCount rays with a
// scene. When indirectRayCount is not null it points to a device-resident
// uint32 holding the number of rays to trace, capped at rayCount.
func CmdIntersect(ctx Context, scene DevicePtr, query IntersectQuery, rays DevicePtr, rayCount uint32, indirectRayCount DevicePtr,
	output IntersectQueryOutput, hits, scratch DevicePtr, stream CommandStream) error {

	return withContext("CmdIntersect", ctx, func(c *contextState) error {
		if query != IntersectQueryClosest && query != IntersectQueryAny {
			return invalidf("unknown query %d", int(query))
		}
		if output != IntersectQueryOutputFullHit && output != IntersectQueryOutputInstanceID {
			return invalidf("unknown query output %d", int(output))
		}
		cs, err := c.stream(stream)
		if err != nil {
			return err
		}
		scenePtr, err := c.devicePtr(scene, "scene")
		if err != nil {
			return err
		}
		rayPtr, err := c.devicePtr(rays, "rays")
		if err != nil {
			return err
		}
		countPtr, err := c.optionalDevicePtr(indirectRayCount, "indirect ray count")
		if err != nil {
			return err
		}
		hitPtr, err := c.devicePtr(hits, "hits")
		if err != nil {
			return err
		}
		scratchPtr, err := c.devicePtr(scratch, "scratch")
		if err != nil {
			return err
		}
		return c.intersector.Intersect(cs, scenePtr, query, rayPtr, rayCount, countPtr, output, hitPtr, scratchPtr)
	})
}
