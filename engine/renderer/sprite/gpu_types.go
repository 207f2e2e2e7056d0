package sprite

import (
	_ "embed"

	"github.com/Carmen-Shannon/lumen/common"
)

// GPUSpriteInstanceSource is the canonical WGSL definition of the SpriteInstance struct.
// Matches GPUSpriteInstance layout exactly (92 bytes, instance-rate vertex buffer).
//
//go:embed assets/sprite_instance.wgsl
var GPUSpriteInstanceSource string

// ShaderSource is the sprite render shader. It expands each instance into a quad in the vertex
// stage and shades through the bindless texture table.
//
//go:embed assets/sprite.wgsl
var ShaderSource string

// GPUSpriteInstanceSize is the stride of one instance in the instance buffer.
const GPUSpriteInstanceSize = 92

// GPUSpriteInstance is the per-instance vertex data of the sprite pipeline.
// Vertex attributes are tightly packed, so the layout has no padding.
type GPUSpriteInstance struct {
	Position  common.Rect   // offset  0: left, right, top, bottom (16 bytes)
	UV        common.Rect   // offset 16: left, right, top, bottom (16 bytes)
	Layer     float32       // offset 32: depth layer index, scaled in the vertex stage (4 bytes)
	Albedo    uint32        // offset 36: bindless slot or the sentinel (4 bytes)
	Tint      [4]float32    // offset 40: linear RGBA (16 bytes)
	Transform [3][3]float32 // offset 56: 2D affine transform, column-major (36 bytes)
}

// Size returns the size of the GPUSpriteInstance in the instance buffer.
//
// Returns:
//   - int: the size in bytes.
func (g *GPUSpriteInstance) Size() int {
	return GPUSpriteInstanceSize
}

// MarshalInto serializes the instance into buf, which must hold at least 92 bytes.
//
// Parameters:
//   - buf: the destination buffer
func (g *GPUSpriteInstance) MarshalInto(buf []byte) {
	common.PutRect(buf, 0, g.Position)
	common.PutRect(buf, 16, g.UV)
	common.PutFloat32(buf, 32, g.Layer)
	common.PutUint32(buf, 36, g.Albedo)
	for i := 0; i < 4; i++ {
		common.PutFloat32(buf, 40+i*4, g.Tint[i])
	}
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			common.PutFloat32(buf, 56+c*12+r*4, g.Transform[c][r])
		}
	}
}

// Marshal serializes the instance into a new buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 92-byte buffer ready for GPU upload.
func (g *GPUSpriteInstance) Marshal() []byte {
	buf := make([]byte, GPUSpriteInstanceSize)
	g.MarshalInto(buf)
	return buf
}

// MinInstanceCapacity is the smallest instance buffer the device allocates.
const MinInstanceCapacity = 256

// InstanceBufferCapacity returns the instance count an instance buffer must be sized for to hold
// count instances: at least MinInstanceCapacity, grown to the next power of two.
//
// Parameters:
//   - count: the number of instances to hold
//
// Returns:
//   - uint64: the buffer capacity in instances
func InstanceBufferCapacity(count uint64) uint64 {
	return common.NextPowerOfTwo(max(count, MinInstanceCapacity))
}
