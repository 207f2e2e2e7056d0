// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
)

// TextureHandle identifies a GPU-resident image. The zero value means "no texture".
type TextureHandle struct {
	id uuid.UUID
}

// NewTextureHandle returns a fresh, unique TextureHandle.
func NewTextureHandle() TextureHandle {
	return TextureHandle{id: uuid.New()}
}

// IsZero reports whether the handle refers to no texture.
func (h TextureHandle) IsZero() bool {
	return h.id == uuid.Nil
}

func (h TextureHandle) String() string {
	return "tex:" + h.id.String()
}

// MeshHandle identifies uploaded vertex and index buffers. The zero value means "no mesh".
type MeshHandle struct {
	id uuid.UUID
}

// NewMeshHandle returns a fresh, unique MeshHandle.
func NewMeshHandle() MeshHandle {
	return MeshHandle{id: uuid.New()}
}

// IsZero reports whether the handle refers to no mesh.
func (h MeshHandle) IsZero() bool {
	return h.id == uuid.Nil
}

func (h MeshHandle) String() string {
	return "mesh:" + h.id.String()
}

// Rect is an axis-aligned box. For positions Top is the larger y in a y-up space; for texture
// coordinates Top is the smaller v, so a full texture is {Left: 0, Right: 1, Top: 0, Bottom: 1}.
type Rect struct {
	Left, Right, Top, Bottom float32
}

// Width returns Right - Left.
func (r Rect) Width() float32 {
	return r.Right - r.Left
}

// Height returns the absolute vertical extent.
func (r Rect) Height() float32 {
	if r.Top > r.Bottom {
		return r.Top - r.Bottom
	}
	return r.Bottom - r.Top
}

// ImageFormat describes the pixel layout of a CPU-side or GPU-side image.
type ImageFormat int

const (
	ImageFormatUnknown ImageFormat = iota
	// ImageFormatR8Unorm is a single coverage/luminance channel.
	ImageFormatR8Unorm
	// ImageFormatRGB8Unorm is tightly packed 3-channel data, linear.
	ImageFormatRGB8Unorm
	// ImageFormatRGB8Srgb is tightly packed 3-channel data, sRGB encoded.
	ImageFormatRGB8Srgb
	ImageFormatRGBA8Unorm
	ImageFormatRGBA8Srgb
)

// Channels returns the number of bytes per pixel.
func (f ImageFormat) Channels() int {
	switch f {
	case ImageFormatR8Unorm:
		return 1
	case ImageFormatRGB8Unorm, ImageFormatRGB8Srgb:
		return 3
	case ImageFormatRGBA8Unorm, ImageFormatRGBA8Srgb:
		return 4
	}
	return 0
}

// IsSrgb reports whether the format stores gamma-encoded colour.
func (f ImageFormat) IsSrgb() bool {
	return f == ImageFormatRGB8Srgb || f == ImageFormatRGBA8Srgb
}

// GPUNative reports whether the format can back a GPU texture directly.
func (f ImageFormat) GPUNative() bool {
	return f == ImageFormatRGBA8Unorm || f == ImageFormatRGBA8Srgb || f == ImageFormatR8Unorm
}

// TextureFormat maps the image format to the wgpu texture format used to store it.
// 3-channel formats have no GPU equivalent and map to their 4-channel counterparts.
func (f ImageFormat) TextureFormat() wgpu.TextureFormat {
	switch f {
	case ImageFormatR8Unorm:
		return wgpu.TextureFormatR8Unorm
	case ImageFormatRGB8Unorm, ImageFormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case ImageFormatRGB8Srgb, ImageFormatRGBA8Srgb:
		return wgpu.TextureFormatRGBA8UnormSrgb
	}
	return wgpu.TextureFormatUndefined
}

func (f ImageFormat) String() string {
	switch f {
	case ImageFormatR8Unorm:
		return "R8Unorm"
	case ImageFormatRGB8Unorm:
		return "RGB8Unorm"
	case ImageFormatRGB8Srgb:
		return "RGB8Srgb"
	case ImageFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case ImageFormatRGBA8Srgb:
		return "RGBA8Srgb"
	}
	return "Unknown"
}

// SamplerStagingData holds the configuration for a sampler binding pending GPU creation.
type SamplerStagingData struct {
	// AddressModeU, AddressModeV, AddressModeW specify the addressing mode for texture coordinates outside the [0, 1] range in each dimension (U, V, W).
	AddressModeU, AddressModeV, AddressModeW wgpu.AddressMode
	// MagFilter and MinFilter specify the filtering mode for magnification and minification.
	MagFilter, MinFilter wgpu.FilterMode
	// MipmapFilter specifies the filtering mode for mipmap level selection.
	MipmapFilter wgpu.MipmapFilterMode
	// LodMinClamp and LodMaxClamp specify the minimum and maximum level of detail (LOD) for mipmapping.
	LodMinClamp, LodMaxClamp float32
	// MaxAnisotropy specifies the maximum anisotropy level for anisotropic filtering.
	MaxAnisotropy uint16
}
