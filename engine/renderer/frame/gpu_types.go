package frame

import (
	_ "embed"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUFrameUniformsSource is the canonical WGSL definition of the FrameUniforms struct.
// Matches GPUFrameUniforms layout exactly (8416 bytes, uniform address space).
//
//go:embed assets/frame_uniforms.wgsl
var GPUFrameUniformsSource string

// MaxJoints is the fixed length of the joint palette in every uniform record.
const MaxJoints = 128

// GPUFrameUniformsSize is the byte size of one FrameUniforms record before alignment padding.
const GPUFrameUniformsSize = 16 + 3*64 + MaxJoints*64 + 16

// NoAlbedo is the albedo slot of records drawn with the flat tint. It equals the bindless sentinel.
const NoAlbedo uint32 = math.MaxUint32

// GPUFrameUniforms is the per-draw uniform record read by the sprite, mesh and skinned vertex stages.
// Field order and offsets are a binary contract with GPUFrameUniformsSource.
type GPUFrameUniforms struct {
	AlbedoFactor mgl32.Vec4            // offset    0: linear RGBA tint (16 bytes)
	View         mgl32.Mat4            // offset   16: camera view matrix (64 bytes)
	Projection   mgl32.Mat4            // offset   80: camera projection matrix (64 bytes)
	Model        mgl32.Mat4            // offset  144: model transform (64 bytes)
	Joints       [MaxJoints]mgl32.Mat4 // offset  208: joint palette (8192 bytes)
	AlbedoSlot   uint32                // offset 8400: bindless slot of the albedo texture (4 bytes)
	_            [3]uint32             // offset 8404: struct alignment padding (12 bytes)
}

// Size returns the size of the GPUFrameUniforms struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUFrameUniforms) Size() int {
	return int(unsafe.Sizeof(*g))
}

// MarshalInto serializes the record into buf, which must hold at least GPUFrameUniformsSize bytes.
//
// Parameters:
//   - buf: the destination buffer
func (g *GPUFrameUniforms) MarshalInto(buf []byte) {
	common.PutVec4(buf, 0, g.AlbedoFactor)
	common.PutMat4(buf, 16, g.View)
	common.PutMat4(buf, 80, g.Projection)
	common.PutMat4(buf, 144, g.Model)
	for i := range g.Joints {
		common.PutMat4(buf, 208+i*64, g.Joints[i])
	}
	common.PutUint32(buf, 8400, g.AlbedoSlot)
}

// Marshal serializes the record into a new buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 8416-byte buffer ready for GPU upload.
func (g *GPUFrameUniforms) Marshal() []byte {
	buf := make([]byte, GPUFrameUniformsSize)
	g.MarshalInto(buf)
	return buf
}

// JointPalette is an ordered list of joint transforms indexed by per-vertex joint indices.
// At most MaxJoints entries are accepted.
type JointPalette []mgl32.Mat4
