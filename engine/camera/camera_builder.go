package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraBuilderOption is a functional option for configuring a Camera.
// Use the With* functions to create options.
type CameraBuilderOption func(*cameraImpl)

// WithPerspective selects a perspective projection.
//
// Parameters:
//   - fov: vertical field of view in radians
//   - near, far: clip plane distances
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithPerspective(fov, near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.projection = ProjectionPerspective
		c.fov = fov
		c.near = near
		c.far = far
	}
}

// WithOrthographic selects an orthographic projection showing height world units vertically.
//
// Parameters:
//   - height: the visible height in world units
//   - near, far: clip plane distances
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithOrthographic(height, near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.projection = ProjectionOrthographic
		c.height = height
		c.near = near
		c.far = far
	}
}

// WithAspect sets the initial aspect ratio (width / height).
//
// Parameters:
//   - aspect: the aspect ratio
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.aspect = aspect
	}
}

// WithUp sets the camera's up vector.
//
// Parameters:
//   - up: the up direction
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithUp(up mgl32.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.up = up
	}
}

// WithLookAt places the eye of a camera without a controller.
//
// Parameters:
//   - position: the eye position
//   - target: the point looked at
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithLookAt(position, target mgl32.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.position = position
		c.target = target
	}
}

// WithController attaches an orbit controller that supplies the eye and target.
//
// Parameters:
//   - ctrl: the controller
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithController(ctrl OrbitController) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.controller = ctrl
	}
}
