package cache

import "tilewire/internal/tile"

// Tile is one block of a drawable's pixels. Its buffer exists only while
// the reference count is positive.
type Tile struct {
	key      tile.Key
	bpp      int
	width    int
	height   int
	refCount int
	dirty    bool
	data     []byte
}

func NewTile(key tile.Key, bpp, width, height int) *Tile {
	return &Tile{
		key:    key,
		bpp:    bpp,
		width:  width,
		height: height,
	}
}

// TilesForGrid builds the tiles of a drawable laid out on g.
func TilesForGrid(drawableID int32, shadow bool, g tile.Grid) []*Tile {
	tiles := make([]*Tile, 0, g.NumTiles())
	for i := 0; i < g.NumTiles(); i++ {
		w, h, err := g.TileSize(uint32(i))
		if err != nil {
			break
		}
		key := tile.Key{DrawableID: drawableID, Index: uint32(i), Shadow: shadow}
		tiles = append(tiles, NewTile(key, g.BPP, w, h))
	}
	return tiles
}

func (t *Tile) Key() tile.Key { return t.key }
func (t *Tile) BPP() int { return t.bpp }
func (t *Tile) Width() int { return t.width }
func (t *Tile) Height() int { return t.height }
func (t *Tile) RefCount() int { return t.refCount }
func (t *Tile) Dirty() bool { return t.dirty }

// Data returns the pixel buffer, or nil when the tile is not referenced.
func (t *Tile) Data() []byte { return t.data }

// Size is the byte length of the pixel buffer.
func (t *Tile) Size() int {
	return t.width * t.height * t.bpp
}
