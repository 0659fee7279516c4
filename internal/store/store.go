// Package store holds the server's backing pixel storage for drawable tiles.
package store

import (
	"errors"

	"tilewire/internal/tile"
)

var ErrClosed = errors.New("store is closed")

// Store persists raw tile pixels keyed by tile identity.
type Store interface {
	Get(key tile.Key) ([]byte, bool, error)
	Set(key tile.Key, value []byte) error
	Clear() error
	Close() error
}
