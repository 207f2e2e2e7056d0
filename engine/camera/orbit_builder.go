package camera

import "github.com/go-gl/mathgl/mgl32"

// OrbitControllerOption is a functional option for configuring an OrbitController.
type OrbitControllerOption func(*orbitController)

// WithRadius sets the initial distance from the target.
//
// Parameters:
//   - radius: the distance in world units
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithRadius(radius float32) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.radius = radius
	}
}

// WithAngles sets the initial azimuth and elevation in radians.
//
// Parameters:
//   - azimuth: horizontal angle around Y
//   - elevation: vertical angle above the horizontal plane
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithAngles(azimuth, elevation float32) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.azimuth = azimuth
		cc.elevation = elevation
	}
}

// WithTarget sets the initial orbit centre.
//
// Parameters:
//   - target: the point orbited
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithTarget(target mgl32.Vec3) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.target = target
	}
}

// WithRadiusBounds sets the zoom limits.
//
// Parameters:
//   - min, max: the closest and farthest radius
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithRadiusBounds(min, max float32) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.minRadius = min
		cc.maxRadius = max
	}
}

// WithElevationBounds sets the vertical orbit limits in radians.
//
// Parameters:
//   - min, max: the lowest and highest elevation
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithElevationBounds(min, max float32) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.minElevation = min
		cc.maxElevation = max
	}
}

// WithZoomSpeed sets the radius change per unit of Zoom delta.
//
// Parameters:
//   - speed: world units per scroll step
//
// Returns:
//   - OrbitControllerOption: option function to apply
func WithZoomSpeed(speed float32) OrbitControllerOption {
	return func(cc *orbitController) {
		cc.zoomSpeed = speed
	}
}
