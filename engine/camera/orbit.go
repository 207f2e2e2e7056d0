package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// orbitController is the implementation of OrbitController.
// The eye sits on a sphere around the target; orbiting changes the spherical angles and panning
// moves the target and eye together.
type orbitController struct {
	mu sync.Mutex

	// Camera position (computed from target + spherical coords)
	position mgl32.Vec3
	target   mgl32.Vec3

	radius    float32
	azimuth   float32 // Horizontal angle around Y axis
	elevation float32 // Vertical angle from horizontal plane

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	zoomSpeed float32
}

// OrbitController steers a camera around a target point, the usual control for inspecting a 3D
// scene with the mouse.
type OrbitController interface {
	// Position returns the eye position.
	Position() mgl32.Vec3

	// Target returns the point the eye orbits and looks at.
	Target() mgl32.Vec3

	// SetTarget moves the orbit centre, keeping the spherical offset.
	//
	// Parameters:
	//   - t: the new target
	SetTarget(t mgl32.Vec3)

	// Orbit rotates the eye around the target. Elevation is clamped to the configured bounds.
	//
	// Parameters:
	//   - dAzimuth: change of the horizontal angle in radians
	//   - dElevation: change of the vertical angle in radians
	Orbit(dAzimuth, dElevation float32)

	// Zoom moves the eye toward the target for positive delta, scaled by the zoom speed and
	// clamped to the radius bounds.
	//
	// Parameters:
	//   - delta: scroll amount
	Zoom(delta float32)

	// Pan moves target and eye together along the camera's right and up axes.
	//
	// Parameters:
	//   - right, up: distances in world units
	Pan(right, up float32)

	// Radius returns the distance from the target to the eye.
	Radius() float32
}

var _ OrbitController = &orbitController{}

// NewOrbitController creates an orbit controller with sensible defaults.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - OrbitController: the newly created controller
func NewOrbitController(options ...OrbitControllerOption) OrbitController {
	cc := &orbitController{
		radius:    10.0,
		azimuth:   0.0,
		elevation: float32(math.Pi / 6),

		minRadius:    1.0,
		maxRadius:    500.0,
		minElevation: 0.05,
		maxElevation: float32(math.Pi/2 - 0.1),

		zoomSpeed: 1.0,
	}
	for _, option := range options {
		option(cc)
	}
	cc.radius = common.Clamp(cc.radius, cc.minRadius, cc.maxRadius)
	cc.elevation = common.Clamp(cc.elevation, cc.minElevation, cc.maxElevation)
	cc.updatePosition()
	return cc
}

// updatePosition recomputes the camera position from spherical coordinates.
// Caller must hold the mutex.
func (cc *orbitController) updatePosition() {
	cosElev := float32(math.Cos(float64(cc.elevation)))
	sinElev := float32(math.Sin(float64(cc.elevation)))
	cosAzim := float32(math.Cos(float64(cc.azimuth)))
	sinAzim := float32(math.Sin(float64(cc.azimuth)))

	cc.position = cc.target.Add(mgl32.Vec3{
		cc.radius * cosElev * sinAzim,
		cc.radius * sinElev,
		cc.radius * cosElev * cosAzim,
	})
}

func (cc *orbitController) Position() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position
}

func (cc *orbitController) Target() mgl32.Vec3 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target
}

func (cc *orbitController) SetTarget(t mgl32.Vec3) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = t
	cc.updatePosition()
}

func (cc *orbitController) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth += dAzimuth
	cc.elevation = common.Clamp(cc.elevation+dElevation, cc.minElevation, cc.maxElevation)
	cc.updatePosition()
}

func (cc *orbitController) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius = common.Clamp(cc.radius-delta*cc.zoomSpeed, cc.minRadius, cc.maxRadius)
	cc.updatePosition()
}

func (cc *orbitController) Pan(right, up float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	forward := cc.target.Sub(cc.position)
	if forward.Len() == 0 {
		return
	}
	forward = forward.Normalize()
	r := forward.Cross(mgl32.Vec3{0, 1, 0}).Normalize()
	u := r.Cross(forward)
	offset := r.Mul(right).Add(u.Mul(up))
	cc.target = cc.target.Add(offset)
	cc.position = cc.position.Add(offset)
}

func (cc *orbitController) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}
