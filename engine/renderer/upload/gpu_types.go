package upload

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/lumen/common"
)

// GPUConversionShaderSource is the compute stage that expands tightly packed 3-channel pixels into
// an rgba8unorm storage texture, one invocation per destination pixel.
//
//go:embed assets/rgb_to_rgba.wgsl
var GPUConversionShaderSource string

// GPUConversionParamsSize is the byte size of the conversion uniform block.
const GPUConversionParamsSize = 16

// GPUConversionParams is the uniform block of the conversion dispatch.
// Size: 16 bytes (12 bytes of data padded to the struct's 8-byte alignment and uniform rules).
type GPUConversionParams struct {
	Offset [2]int32 // offset 0: destination origin of the job footprint (8 bytes)
	Stride uint32   // offset 8: source row stride in pixels (4 bytes)
	_      uint32   // offset 12: padding (4 bytes)
}

// Size returns the size of the GPUConversionParams struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUConversionParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the params into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUConversionParams) Marshal() []byte {
	buf := make([]byte, GPUConversionParamsSize)
	common.PutInt32(buf, 0, g.Offset[0])
	common.PutInt32(buf, 4, g.Offset[1])
	common.PutUint32(buf, 8, g.Stride)
	return buf
}
