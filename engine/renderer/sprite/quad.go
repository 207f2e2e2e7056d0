package sprite

import (
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/bindless"
	"github.com/go-gl/mathgl/mgl32"
)

// VerticesPerSprite is the vertex count of one instanced draw: two triangles, no index buffer.
const VerticesPerSprite = 6

// LayerScale maps a layer index to clip-space depth. Layer 0 is nearest; larger layers sit farther
// back and lose the LESS depth test against nearer ones.
const LayerScale = 1.0 / 65536.0

// QuadCorners selects the rect edges for each of the six quad vertices. Index 0 picks Left (x) or
// Top (y); index 1 picks Right or Bottom. Both triangles wind counter-clockwise when Top > Bottom.
var QuadCorners = [VerticesPerSprite][2]uint8{
	{0, 0}, {0, 1}, {1, 0},
	{1, 0}, {0, 1}, {1, 1},
}

// LayerDepth returns the normalized depth written for a sprite on layer.
func LayerDepth(layer uint16) float32 {
	return float32(layer) * LayerScale
}

// QuadVertex is one expanded sprite vertex in world space.
type QuadVertex struct {
	Position mgl32.Vec2
	UV       mgl32.Vec2
	Depth    float32
}

func pick(r common.Rect, corner [2]uint8) (float32, float32) {
	x, y := r.Left, r.Top
	if corner[0] == 1 {
		x = r.Right
	}
	if corner[1] == 1 {
		y = r.Bottom
	}
	return x, y
}

// ExpandQuad computes the six vertices the sprite vertex stage produces for inst, before the
// camera is applied.
//
// Parameters:
//   - inst: the sprite instance
//
// Returns:
//   - [6]QuadVertex: the two triangles of the quad
func ExpandQuad(inst Instance) [VerticesPerSprite]QuadVertex {
	var out [VerticesPerSprite]QuadVertex
	depth := LayerDepth(inst.Layer)
	for i, corner := range QuadCorners {
		x, y := pick(inst.Position, corner)
		u, v := pick(inst.UV, corner)
		world := inst.Transform.Mul3x1(mgl32.Vec3{x, y, 1})
		out[i] = QuadVertex{
			Position: mgl32.Vec2{world.X(), world.Y()},
			UV:       mgl32.Vec2{u, v},
			Depth:    depth,
		}
	}
	return out
}

// Sampler samples the texture bound at slot. Used by ShadeFragment in place of the texture array.
type Sampler func(slot uint32, uv mgl32.Vec2) mgl32.Vec4

// ShadeFragment computes the colour the sprite fragment stage writes: the tint alone when the slot
// is the sentinel, otherwise the sampled texel multiplied by the tint. The sampler is not invoked
// for the sentinel.
//
// Parameters:
//   - slot: the bindless slot or bindless.Sentinel
//   - uv: the interpolated texture coordinate
//   - tint: the linear RGBA tint
//   - sample: the texture lookup
//
// Returns:
//   - mgl32.Vec4: the output colour
func ShadeFragment(slot uint32, uv mgl32.Vec2, tint mgl32.Vec4, sample Sampler) mgl32.Vec4 {
	if slot == bindless.Sentinel {
		return tint
	}
	texel := sample(slot, uv)
	return mgl32.Vec4{texel[0] * tint[0], texel[1] * tint[1], texel[2] * tint[2], texel[3] * tint[3]}
}
