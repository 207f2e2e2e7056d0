// Package camera builds the view and projection a frame is rendered with, either a perspective
// camera steered by an OrbitController or an orthographic camera over a 2D world.
package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/go-gl/mathgl/mgl32"
)

// Projection selects how the camera maps view space to clip space.
type Projection int

const (
	// ProjectionPerspective uses a vertical field of view.
	ProjectionPerspective Projection = iota
	// ProjectionOrthographic maps a world-space rectangle of Height units tall to the viewport.
	ProjectionOrthographic
)

type cameraImpl struct {
	mu sync.Mutex

	projection Projection
	up         mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32
	height float32

	// position and target of a camera with no controller
	position mgl32.Vec3
	target   mgl32.Vec3

	controller OrbitController
}

// Camera holds projection settings and produces the orchestrator.Camera of each frame. The eye
// comes from the attached OrbitController when there is one, otherwise from SetPosition and SetTarget.
//
// All methods are safe for concurrent use, so the tick loop can steer the camera while the render
// loop reads it.
type Camera interface {
	// Snapshot computes the view and projection matrices for the current state.
	//
	// Returns:
	//   - orchestrator.Camera: the camera for a frame snapshot
	Snapshot() orchestrator.Camera

	// SetAspect sets the aspect ratio (width / height), usually from the window's resize callback.
	//
	// Parameters:
	//   - aspect: the new aspect ratio; non-positive values are ignored
	SetAspect(aspect float32)

	// Aspect returns the aspect ratio (width / height).
	//
	// Returns:
	//   - float32: the aspect ratio
	Aspect() float32

	// SetPosition moves the eye of a camera without a controller.
	//
	// Parameters:
	//   - p: the eye position in world space
	SetPosition(p mgl32.Vec3)

	// SetTarget sets the point a camera without a controller looks at.
	//
	// Parameters:
	//   - t: the target in world space
	SetTarget(t mgl32.Vec3)

	// Controller returns the attached orbit controller, or nil.
	Controller() OrbitController
}

var _ Camera = &cameraImpl{}

// NewCamera creates a new Camera with the given options.
// Defaults to a 45 degree perspective looking down -Z from (0, 0, 10).
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		projection: ProjectionPerspective,
		up:         mgl32.Vec3{0, 1, 0},
		fov:        45.0 * (math.Pi / 180.0), // radians
		aspect:     1.0,
		near:       0.1,
		far:        100.0,
		height:     2.0,
		position:   mgl32.Vec3{0, 0, 10},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *cameraImpl) Snapshot() orchestrator.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()

	eye, target := c.position, c.target
	if c.controller != nil {
		eye, target = c.controller.Position(), c.controller.Target()
	}

	var proj mgl32.Mat4
	switch c.projection {
	case ProjectionOrthographic:
		hw, hh := c.height*c.aspect/2, c.height/2
		proj = mgl32.Ortho(-hw, hw, -hh, hh, c.near, c.far)
	default:
		proj = mgl32.Perspective(c.fov, c.aspect, c.near, c.far)
	}
	return orchestrator.Camera{
		View:       mgl32.LookAtV(eye, target, c.up),
		Projection: proj,
	}
}

func (c *cameraImpl) SetAspect(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) SetPosition(p mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = p
}

func (c *cameraImpl) SetTarget(t mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
}

func (c *cameraImpl) Controller() OrbitController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}
