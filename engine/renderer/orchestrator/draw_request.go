package orchestrator

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/renderer/frame"
	"github.com/Carmen-Shannon/lumen/engine/renderer/overlay"
	"github.com/Carmen-Shannon/lumen/engine/renderer/skinning"
	"github.com/Carmen-Shannon/lumen/engine/renderer/sprite"
	"github.com/go-gl/mathgl/mgl32"
)

// DrawKind identifies the variant of a DrawRequest.
type DrawKind int

const (
	DrawKindSprite DrawKind = iota
	DrawKindTileMap
	DrawKindStaticMesh
	DrawKindSkinnedMesh
	DrawKindOverlay
)

func (k DrawKind) String() string {
	switch k {
	case DrawKindSprite:
		return "sprite"
	case DrawKindTileMap:
		return "tile_map"
	case DrawKindStaticMesh:
		return "static_mesh"
	case DrawKindSkinnedMesh:
		return "skinned_mesh"
	case DrawKindOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("DrawKind(%d)", int(k))
	}
}

// DrawRequest is one thing the scene wants drawn this frame. The set of variants is closed: only
// the request types of this package implement it.
type DrawRequest interface {
	// Kind returns the request's variant.
	//
	// Returns:
	//   - DrawKind: the variant
	Kind() DrawKind

	sealed()
}

// SpriteDraw draws one textured quad. Texture is resolved to a bindless slot at draw time; a zero
// or unregistered handle draws the flat tint.
type SpriteDraw struct {
	Position  common.Rect
	UV        common.Rect
	Layer     uint16
	Texture   common.TextureHandle
	Tint      mgl32.Vec4
	Transform mgl32.Mat3
}

// NewSpriteDraw returns a sprite covering position with the full texture, a white tint and an
// identity transform.
func NewSpriteDraw(position common.Rect, texture common.TextureHandle) SpriteDraw {
	return SpriteDraw{
		Position:  position,
		UV:        common.Rect{Left: 0, Right: 1, Top: 0, Bottom: 1},
		Texture:   texture,
		Tint:      mgl32.Vec4{1, 1, 1, 1},
		Transform: mgl32.Ident3(),
	}
}

// TileSource is one entry of a tile set: a texture and the region of it a cell shows.
type TileSource struct {
	Texture common.TextureHandle
	UV      common.Rect
}

// TileMapDraw draws a grid of cells, each cell showing a tile from Tiles.
type TileMapDraw struct {
	Map       sprite.TileMap
	Tiles     []TileSource
	Transform mgl32.Mat3
	Layer     uint16
}

// StaticMeshDraw draws an uploaded static or vertex-colour mesh. A zero Texture draws the lit tint.
type StaticMeshDraw struct {
	Mesh    skinning.Mesh
	Model   mgl32.Mat4
	Scale   *mgl32.Vec3
	Tint    mgl32.Vec4
	Texture common.TextureHandle
}

// SkinnedMeshDraw draws an uploaded skinned mesh posed by Palette.
type SkinnedMeshDraw struct {
	Mesh    skinning.Mesh
	Model   mgl32.Mat4
	Scale   *mgl32.Vec3
	Tint    mgl32.Vec4
	Texture common.TextureHandle
	Palette frame.JointPalette
}

// OverlayDraw composites a GUI draw list over the scene.
type OverlayDraw struct {
	List overlay.DrawList
}

func (SpriteDraw) Kind() DrawKind      { return DrawKindSprite }
func (TileMapDraw) Kind() DrawKind     { return DrawKindTileMap }
func (StaticMeshDraw) Kind() DrawKind  { return DrawKindStaticMesh }
func (SkinnedMeshDraw) Kind() DrawKind { return DrawKindSkinnedMesh }
func (OverlayDraw) Kind() DrawKind     { return DrawKindOverlay }

func (SpriteDraw) sealed()      {}
func (TileMapDraw) sealed()     {}
func (StaticMeshDraw) sealed()  {}
func (SkinnedMeshDraw) sealed() {}
func (OverlayDraw) sealed()     {}

// meshRequest is a mesh draw whose texture slot is resolved after the frame's uploads.
type meshRequest struct {
	draw    skinning.MeshDraw
	texture common.TextureHandle
}

func (d StaticMeshDraw) meshDraw() meshRequest {
	return meshRequest{
		draw:    skinning.MeshDraw{Mesh: d.Mesh, Model: d.Model, Scale: d.Scale, Tint: d.Tint},
		texture: d.Texture,
	}
}

func (d SkinnedMeshDraw) meshDraw() meshRequest {
	return meshRequest{
		draw:    skinning.MeshDraw{Mesh: d.Mesh, Model: d.Model, Scale: d.Scale, Tint: d.Tint, Palette: d.Palette},
		texture: d.Texture,
	}
}

// partition groups the requests of one frame by variant, keeping submission order inside each.
type partition struct {
	meshes   []meshRequest
	sprites  []SpriteDraw
	tileMaps []TileMapDraw
	overlays []OverlayDraw
}

func (p *partition) reset() {
	p.meshes = p.meshes[:0]
	p.sprites = p.sprites[:0]
	p.tileMaps = p.tileMaps[:0]
	p.overlays = p.overlays[:0]
}

func (p *partition) add(requests []DrawRequest) {
	for _, r := range requests {
		switch d := r.(type) {
		case SpriteDraw:
			p.sprites = append(p.sprites, d)
		case TileMapDraw:
			p.tileMaps = append(p.tileMaps, d)
		case StaticMeshDraw:
			p.meshes = append(p.meshes, d.meshDraw())
		case SkinnedMeshDraw:
			p.meshes = append(p.meshes, d.meshDraw())
		case OverlayDraw:
			p.overlays = append(p.overlays, d)
		}
	}
}
