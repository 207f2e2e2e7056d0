package bindless

import (
	_ "embed"

	"github.com/Carmen-Shannon/lumen/common"
)

// GPUBindlessSource declares the bindless texture array, its sampler and the per-slot UV scale
// table, plus the bindless_shade helper every textured fragment stage calls.
//
//go:embed assets/bindless.wgsl
var GPUBindlessSource string

// GPUSlotScale is one entry of the per-slot UV scale storage buffer. Images smaller than the array
// layer occupy its top-left corner and sample it through this scale.
// Size: 8 bytes (array<vec2<f32>> stride).
type GPUSlotScale struct {
	U float32 // offset 0
	V float32 // offset 4
}

// GPUSlotScaleSize is the stride of one GPUSlotScale entry.
const GPUSlotScaleSize = 8

// NewGPUSlotScale computes the scale for an image of width x height stored in a square layer.
//
// Parameters:
//   - width, height: the image size in pixels
//   - layerSize: the edge length of one array layer
//
// Returns:
//   - GPUSlotScale: the UV multiplier
func NewGPUSlotScale(width, height, layerSize uint32) GPUSlotScale {
	if layerSize == 0 {
		return GPUSlotScale{U: 1, V: 1}
	}
	return GPUSlotScale{
		U: float32(width) / float32(layerSize),
		V: float32(height) / float32(layerSize),
	}
}

// Marshal serializes the scale into a buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 8-byte buffer ready for GPU upload.
func (g GPUSlotScale) Marshal() []byte {
	buf := make([]byte, GPUSlotScaleSize)
	common.PutFloat32(buf, 0, g.U)
	common.PutFloat32(buf, 4, g.V)
	return buf
}
