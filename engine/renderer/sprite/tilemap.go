package sprite

import (
	"fmt"

	"github.com/Carmen-Shannon/lumen/common"
	"github.com/go-gl/mathgl/mgl32"
)

// EmptyCell marks a tile map cell with nothing drawn in it.
const EmptyCell = -1

// Tile is one entry of a tile set: a bindless slot and the region of it to sample.
type Tile struct {
	Texture uint32
	UV      common.Rect
}

// TileMap is a grid of tile set indices in row-major order. Row 0 is the top row; rows extend
// downward along -y and columns along +x, with cell (0, 0) centred on the origin.
type TileMap struct {
	Columns  int
	CellSize mgl32.Vec2
	Cells    []int
}

// Rows returns the number of rows the cells span.
func (m TileMap) Rows() int {
	if m.Columns <= 0 {
		return 0
	}
	return (len(m.Cells) + m.Columns - 1) / m.Columns
}

// CellRect returns the model-space rectangle of cell i.
//
// Parameters:
//   - i: the cell index
//
// Returns:
//   - common.Rect: the cell rectangle
func (m TileMap) CellRect(i int) common.Rect {
	col, row := i%m.Columns, i/m.Columns
	cx := float32(col) * m.CellSize.X()
	cy := -float32(row) * m.CellSize.Y()
	hw, hh := m.CellSize.X()/2, m.CellSize.Y()/2
	return common.Rect{Left: cx - hw, Right: cx + hw, Top: cy + hh, Bottom: cy - hh}
}

// ExpandTileMap produces one white-tinted instance per non-empty cell, all sharing transform and
// layer.
//
// Parameters:
//   - m: the tile map
//   - tiles: the tile set the cells index into
//   - transform: the transform applied to the whole map
//   - layer: the depth layer of the map
//
// Returns:
//   - []Instance: the cell instances in row-major order
//   - error: an error if the map has no columns or a cell indexes past the tile set
func ExpandTileMap(m TileMap, tiles []Tile, transform mgl32.Mat3, layer uint16) ([]Instance, error) {
	if m.Columns <= 0 {
		return nil, fmt.Errorf("tile map must have at least one column, got %d", m.Columns)
	}

	out := make([]Instance, 0, len(m.Cells))
	for i, cell := range m.Cells {
		if cell == EmptyCell {
			continue
		}
		if cell < 0 || cell >= len(tiles) {
			return nil, fmt.Errorf("tile map cell %d references tile %d, tile set has %d", i, cell, len(tiles))
		}
		tile := tiles[cell]
		out = append(out, Instance{
			Position:  m.CellRect(i),
			UV:        tile.UV,
			Layer:     layer,
			Texture:   tile.Texture,
			Tint:      mgl32.Vec4{1, 1, 1, 1},
			Transform: transform,
		})
	}
	return out, nil
}
