package overlay

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// InverseDimensions returns the factor that maps screen points to NDC for a framebuffer of width
// by height pixels at scale pixels per point. The y component is negative because screen y grows
// downward.
func InverseDimensions(width, height uint32, scale float32) mgl32.Vec2 {
	return mgl32.Vec2{2 * scale / float32(width), -2 * scale / float32(height)}
}

// ToNDC maps a top-left-origin screen position to normalized device coordinates.
func ToNDC(p, inv mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{p[0]*inv[0] - 1, p[1]*inv[1] + 1}
}

// SRGBToLinear decodes one gamma-encoded channel in [0, 1].
func SRGBToLinear(c float32) float32 {
	if c < 0.04045 {
		return c / 12.92
	}
	return float32(math.Pow(float64((c+0.055)/1.055), 2.4))
}

// DecodeColor converts a gamma-encoded RGBA8 vertex colour to linear RGBA. Alpha is only rescaled.
func DecodeColor(c [4]uint8) mgl32.Vec4 {
	return mgl32.Vec4{
		SRGBToLinear(float32(c[0]) / 255),
		SRGBToLinear(float32(c[1]) / 255),
		SRGBToLinear(float32(c[2]) / 255),
		float32(c[3]) / 255,
	}
}
