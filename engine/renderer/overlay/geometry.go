package overlay

import (
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MinGeometryCapacity is the initial size of the geometry buffer in bytes.
	MinGeometryCapacity = 64 * 1024
	// MinUniformRecords is the initial number of draw list records in the uniform buffer.
	MinUniformRecords = 4
)

// Span locates one primitive's vertices and indices in the geometry buffer.
type Span struct {
	VertexOffset uint64
	VertexSize   uint64
	IndexOffset  uint64
	IndexCount   uint32
}

// IndexSize returns the byte size of the span's indices.
func (s Span) IndexSize() uint64 {
	return uint64(s.IndexCount) * IndexSize
}

// Scissor is a framebuffer rectangle in pixels.
type Scissor struct {
	X, Y, Width, Height uint32
}

// Empty reports whether the scissor covers no pixel.
func (s Scissor) Empty() bool {
	return s.Width == 0 || s.Height == 0
}

// ScissorFor converts a clip rectangle in points into pixels, clamped to the framebuffer.
//
// Parameters:
//   - clip: the clip rectangle in points
//   - scale: pixels per point
//   - width: the framebuffer width in pixels
//   - height: the framebuffer height in pixels
//
// Returns:
//   - Scissor: the clamped scissor, possibly empty
func ScissorFor(clip common.Rect, scale float32, width, height uint32) Scissor {
	clampTo := func(v float32, limit uint32) uint32 {
		return uint32(common.Clamp(mgl32.Round(v, 0), 0, float32(limit)))
	}
	x0 := clampTo(clip.Left*scale, width)
	y0 := clampTo(clip.Top*scale, height)
	x1 := max(clampTo(clip.Right*scale, width), x0)
	y1 := max(clampTo(clip.Bottom*scale, height), y0)
	return Scissor{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// GrowCapacity returns the geometry buffer size needed to hold needed bytes: current doubled until
// it fits, starting from MinGeometryCapacity.
func GrowCapacity(current, needed uint64) uint64 {
	c := max(current, MinGeometryCapacity)
	for c < needed {
		c *= 2
	}
	return c
}

// UniformCapacity returns the uniform buffer size holding records for lists draw lists, a power of
// two number of records and at least MinUniformRecords.
func UniformCapacity(lists int) uint64 {
	n := common.NextPowerOfTwo(uint64(max(lists, MinUniformRecords)))
	return n * GPUOverlayUniformsStride
}

// PackGeometry appends every primitive's vertices followed by its indices to buf, each section
// starting on a four byte boundary. Span offsets are relative to the start of buf, so several draw
// lists can share one buffer. slot resolves a primitive's texture to the bindless slot written
// into its vertices.
//
// Parameters:
//   - buf: the buffer to append to
//   - prims: the primitives to pack
//   - slot: the texture resolver
//
// Returns:
//   - []byte: the packed geometry
//   - []Span: one span per primitive, in order
func PackGeometry(buf []byte, prims []Primitive, slot func(TextureID) uint32) ([]byte, []Span) {
	spans := make([]Span, 0, len(prims))
	for _, p := range prims {
		s := slot(p.Texture)

		buf = pad4(buf)
		span := Span{VertexOffset: uint64(len(buf)), VertexSize: uint64(len(p.Vertices) * GPUOverlayVertexSize)}
		start := len(buf)
		buf = append(buf, make([]byte, span.VertexSize)...)
		for i, v := range p.Vertices {
			g := GPUOverlayVertex{Pos: v.Pos, UV: v.UV, Color: PackColor(v.Color), Slot: s}
			g.MarshalInto(buf[start+i*GPUOverlayVertexSize:])
		}

		buf = pad4(buf)
		span.IndexOffset = uint64(len(buf))
		span.IndexCount = uint32(len(p.Indices))
		start = len(buf)
		buf = append(buf, make([]byte, len(p.Indices)*IndexSize)...)
		for i, idx := range p.Indices {
			common.PutUint32(buf, start+i*IndexSize, idx)
		}
		spans = append(spans, span)
	}
	return buf, spans
}

func pad4(buf []byte) []byte {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
