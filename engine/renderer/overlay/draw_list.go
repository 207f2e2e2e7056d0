package overlay

import (
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// TextureID is the GUI library's name for a texture.
type TextureID uint64

// Vertex is one GUI vertex: a position in screen points with a top-left origin, a texture
// coordinate and a gamma-encoded colour.
type Vertex struct {
	Pos   mgl32.Vec2
	UV    mgl32.Vec2
	Color [4]uint8
}

// Primitive is one clipped, textured triangle list.
type Primitive struct {
	// Clip is the scissor in points: Left/Right along x, Top/Bottom along y growing downward.
	Clip     common.Rect
	Texture  TextureID
	Vertices []Vertex
	Indices  []uint32
}

// ImageDelta replaces a whole texture, or a region of it when Origin is set.
type ImageDelta struct {
	// Origin places a partial update; nil replaces the whole texture.
	Origin        *[2]uint32
	Width, Height uint32
	// Format is RGBA8Srgb for colour images or R8Unorm for font coverage.
	Format common.ImageFormat
	Pixels []byte
}

// TextureSet pairs a texture id with its new content.
type TextureSet struct {
	ID    TextureID
	Delta ImageDelta
}

// TexturesDelta lists the texture changes of one GUI frame. Sets apply before the frame is
// drawn; frees apply after it.
type TexturesDelta struct {
	Set  []TextureSet
	Free []TextureID
}

// DrawList is everything the GUI produced for one frame.
type DrawList struct {
	Primitives     []Primitive
	Textures       TexturesDelta
	PixelsPerPoint float32
}

// Empty reports whether the list draws nothing and changes no texture.
func (d DrawList) Empty() bool {
	return len(d.Primitives) == 0 && len(d.Textures.Set) == 0 && len(d.Textures.Free) == 0
}
