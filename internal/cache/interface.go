package cache

import (
	"errors"
	"fmt"

	"tilewire/internal/tile"
)

// ErrGeometryMismatch reports tile data whose identity or geometry differs
// from what was requested.
var ErrGeometryMismatch = errors.New("tile geometry mismatch")

// Remote is the image-data server seen through the wire protocol.
// Fetch fills t.Data() with the server's copy of the tile; Store sends
// t.Data() back. Both block until the exchange completes.
type Remote interface {
	Fetch(t *Tile) error
	Store(t *Tile) error
}

// FatalError is the panic value raised when an exchange with the remote
// fails mid-flight. The cache and the server no longer agree on the
// state of the tile, so the caller must not continue editing.
type FatalError struct {
	Op  string
	Key tile.Key
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("tile cache: %s tile %s: %v", e.Op, e.Key, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
