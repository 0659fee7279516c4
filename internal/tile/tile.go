package tile

import "fmt"

const (
	DefaultWidth  = 64
	DefaultHeight = 64

	// MaxBPP is the widest pixel the protocol carries; budget accounting
	// always charges a tile as if it had this depth.
	MaxBPP = 4
)

// Key identifies a tile for the lifetime of a session.
type Key struct {
	DrawableID int32
	Index      uint32
	Shadow     bool
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%t", k.DrawableID, k.Index, k.Shadow)
}

// Grid describes how a drawable is split into tiles. Tiles are numbered
// row-major starting at the top-left corner; tiles in the last column and
// row may be smaller than the nominal size.
type Grid struct {
	Width      int
	Height     int
	BPP        int
	TileWidth  int
	TileHeight int
}

func NewGrid(width, height, bpp int) Grid {
	return Grid{
		Width:      width,
		Height:     height,
		BPP:        bpp,
		TileWidth:  DefaultWidth,
		TileHeight: DefaultHeight,
	}
}

func (g Grid) Cols() int {
	if g.TileWidth <= 0 {
		return 0
	}
	return (g.Width + g.TileWidth - 1) / g.TileWidth
}

func (g Grid) Rows() int {
	if g.TileHeight <= 0 {
		return 0
	}
	return (g.Height + g.TileHeight - 1) / g.TileHeight
}

func (g Grid) NumTiles() int {
	return g.Cols() * g.Rows()
}

// TileSize returns the actual width and height of the tile at index.
func (g Grid) TileSize(index uint32) (int, int, error) {
	if int64(index) >= int64(g.NumTiles()) {
		return 0, 0, fmt.Errorf("tile index %d out of range (%d tiles)", index, g.NumTiles())
	}

	col := int(index) % g.Cols()
	row := int(index) / g.Cols()

	w := g.TileWidth
	if rest := g.Width - col*g.TileWidth; rest < w {
		w = rest
	}
	h := g.TileHeight
	if rest := g.Height - row*g.TileHeight; rest < h {
		h = rest
	}
	return w, h, nil
}

// Bytes returns the pixel byte count of the tile at index.
func (g Grid) Bytes(index uint32) (int, error) {
	w, h, err := g.TileSize(index)
	if err != nil {
		return 0, err
	}
	return w * h * g.BPP, nil
}

// Charge is the worst-case footprint of one tile of this grid's nominal size.
func Charge(tileWidth, tileHeight int) int64 {
	return int64(tileWidth) * int64(tileHeight) * MaxBPP
}
