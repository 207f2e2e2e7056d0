package overlay

import (
	_ "embed"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUOverlayVertexSource is the canonical WGSL definition of the OverlayVertex struct.
// Matches GPUOverlayVertex layout exactly (24 bytes).
//
//go:embed assets/overlay_vertex.wgsl
var GPUOverlayVertexSource string

// GPUOverlayUniformsSource is the canonical WGSL definition of the OverlayUniforms struct.
//
//go:embed assets/overlay_uniforms.wgsl
var GPUOverlayUniformsSource string

// ShaderSource is the overlay render shader.
//
//go:embed assets/overlay.wgsl
var ShaderSource string

const (
	// GPUOverlayVertexSize is the stride of one overlay vertex.
	GPUOverlayVertexSize = 24
	// GPUOverlayUniformsSize is the size of one draw list's uniform record.
	GPUOverlayUniformsSize = 16
	// GPUOverlayUniformsStride is the distance between uniform records, the largest dynamic offset
	// alignment WebGPU allows.
	GPUOverlayUniformsStride = 256
	// IndexSize is the size of one index in the geometry buffer.
	IndexSize = 4
)

// GPUOverlayVertex is one overlay vertex with its primitive's bindless slot attached.
type GPUOverlayVertex struct {
	Pos   mgl32.Vec2 // offset  0: screen position in points (8 bytes)
	UV    mgl32.Vec2 // offset  8 (8 bytes)
	Color uint32     // offset 16: gamma-encoded RGBA8, red in the low byte (4 bytes)
	Slot  uint32     // offset 20: bindless slot or the sentinel (4 bytes)
}

// Size returns the size of the vertex in the vertex buffer.
//
// Returns:
//   - int: the size in bytes.
func (g *GPUOverlayVertex) Size() int {
	return GPUOverlayVertexSize
}

// MarshalInto serializes the vertex into buf, which must hold at least 24 bytes.
//
// Parameters:
//   - buf: the destination buffer
func (g *GPUOverlayVertex) MarshalInto(buf []byte) {
	common.PutVec2(buf, 0, g.Pos)
	common.PutVec2(buf, 8, g.UV)
	common.PutUint32(buf, 16, g.Color)
	common.PutUint32(buf, 20, g.Slot)
}

// GPUOverlayUniforms holds the screen transform of the overlay pass.
type GPUOverlayUniforms struct {
	InvDims mgl32.Vec2 // offset 0 (8 bytes)
	_       [2]float32 // offset 8: padding to 16 bytes
}

// Size returns the size of the uniform buffer.
//
// Returns:
//   - int: the size in bytes.
func (g *GPUOverlayUniforms) Size() int {
	return GPUOverlayUniformsSize
}

// Marshal serializes the uniforms into a buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUOverlayUniforms) Marshal() []byte {
	buf := make([]byte, GPUOverlayUniformsSize)
	common.PutVec2(buf, 0, g.InvDims)
	return buf
}

// PackColor packs RGBA8 so unpack4x8unorm yields (r, g, b, a).
func PackColor(c [4]uint8) uint32 {
	return uint32(c[0]) | uint32(c[1])<<8 | uint32(c[2])<<16 | uint32(c[3])<<24
}
