package tile

import "testing"

func TestGridTileSize(t *testing.T) {
	g := Grid{Width: 100, Height: 70, BPP: 3, TileWidth: 64, TileHeight: 64}

	if g.Cols() != 2 || g.Rows() != 2 {
		t.Fatalf("expected 2x2 grid, got %dx%d", g.Cols(), g.Rows())
	}
	if g.NumTiles() != 4 {
		t.Fatalf("expected 4 tiles, got %d", g.NumTiles())
	}

	tests := []struct {
		index uint32
		w, h  int
	}{
		{0, 64, 64},
		{1, 36, 64},
		{2, 64, 6},
		{3, 36, 6},
	}
	for _, tt := range tests {
		w, h, err := g.TileSize(tt.index)
		if err != nil {
			t.Fatalf("TileSize(%d): %v", tt.index, err)
		}
		if w != tt.w || h != tt.h {
			t.Errorf("TileSize(%d) = %dx%d; want %dx%d", tt.index, w, h, tt.w, tt.h)
		}
	}

	n, err := g.Bytes(3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 36*6*3 {
		t.Errorf("Bytes(3) = %d; want %d", n, 36*6*3)
	}
}

func TestGridOutOfRange(t *testing.T) {
	g := NewGrid(64, 64, 4)
	if _, _, err := g.TileSize(1); err == nil {
		t.Fatal("expected error for index past the last tile")
	}
}

func TestCharge(t *testing.T) {
	if got := Charge(DefaultWidth, DefaultHeight); got != 64*64*4 {
		t.Fatalf("Charge = %d; want %d", got, 64*64*4)
	}
}
