package scene

import (
	"fmt"
	"math"

	"github.com/achilleasa/rayforge/types"
)

// Stores the ray directions at the four corners of the camera frustrum. Per
// pixel rays are generated by interpolating the corner rays. The W component
// is unused; Vec4 keeps the layout identical to device float4 vectors.
type Frustrum [4]types.Vec4

func (fr Frustrum) String() string {
	return fmt.Sprintf(
		"Frustrum Rays:\nTL : (%3.3f, %3.3f, %3.3f)\nTR : (%3.3f, %3.3f, %3.3f)\nBL : (%3.3f, %3.3f, %3.3f)\nBR : (%3.3f, %3.3f, %3.3f)",
		fr[0][0], fr[0][1], fr[0][2],
		fr[1][0], fr[1][1], fr[1][2],
		fr[2][0], fr[2][1], fr[2][2],
		fr[3][0], fr[3][1], fr[3][2],
	)
}

// The camera type controls the scene camera.
type Camera struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3

	// Pending rotations (radians) applied by the next call to Update.
	Pitch float32
	Yaw   float32

	Frustrum Frustrum

	// Vertical field of view in degrees.
	FOV float32

	// Frame aspect ratio (width / height).
	Aspect float32

	// Adjust the frustrum so that Y is inverted
	InvertY bool
}

func NewCamera(fov float32) *Camera {
	return &Camera{
		Position: types.Vec3{0, 0, 0},
		LookAt:   types.Vec3{0, 0, -1},
		Up:       types.Vec3{0, 1, 0},
		FOV:      fov,
		Aspect:   1,
	}
}

// Setup camera projection for the given aspect ratio.
func (c *Camera) SetupProjection(aspect float32) {
	c.Aspect = aspect
	c.Update()
}

// Update camera.
func (c *Camera) Update() {
	dir := c.LookAt.Sub(c.Position).Normalize()
	if c.Pitch != 0 || c.Yaw != 0 {
		pitchAxis := dir.Cross(c.Up).Normalize()
		pitchQuat := types.QuatFromAxisAngle(pitchAxis, c.Pitch)
		yawQuat := types.QuatFromAxisAngle(c.Up, c.Yaw)
		orientQuat := pitchQuat.Mul(yawQuat).Normalize()

		dir = orientQuat.Rotate(dir)
		c.LookAt = c.Position.Add(dir)
		c.Pitch, c.Yaw = 0, 0
	}

	c.updateFrustrum(dir)
}

// Generate a ray vector for each corner of the camera frustrum on the image
// plane at unit distance from the eye.
func (c *Camera) updateFrustrum(dir types.Vec3) {
	right := dir.Cross(c.Up).Normalize()
	up := right.Cross(dir)

	halfH := float32(math.Tan(float64(c.FOV) * math.Pi / 360))
	halfW := halfH * c.Aspect

	var yUp float32 = 1.0
	if c.InvertY {
		yUp = -1.0
	}

	top := up.Mul(halfH * yUp)
	side := right.Mul(halfW)
	c.Frustrum[0] = dir.Add(top).Sub(side).Vec4(0)
	c.Frustrum[1] = dir.Add(top).Add(side).Vec4(0)
	c.Frustrum[2] = dir.Sub(top).Sub(side).Vec4(0)
	c.Frustrum[3] = dir.Sub(top).Add(side).Vec4(0)
}

// Ray returns the normalized direction through the image plane point
// (tx, ty); (0, 0) is the top-left corner and (1, 1) the bottom-right one.
func (c *Camera) Ray(tx, ty float32) types.Vec3 {
	lVec := c.Frustrum[0].Mul(1.0 - ty).Vec3().Add(c.Frustrum[2].Mul(ty).Vec3())
	rVec := c.Frustrum[1].Mul(1.0 - ty).Vec3().Add(c.Frustrum[3].Mul(ty).Vec3())
	return lVec.Mul(1.0 - tx).Add(rVec.Mul(tx)).Normalize()
}
