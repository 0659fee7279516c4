package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"tilewire/internal/tile"
)

// CachedStore fronts a slower Store with an in-memory LRU of recently
// served tiles. Writes go through to the backing store.
type CachedStore struct {
	hot     *lru.Cache[tile.Key, []byte]
	backing Store
}

func NewCachedStore(backing Store, maxTiles int) (*CachedStore, error) {
	hot, err := lru.New[tile.Key, []byte](maxTiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot tile cache: %w", err)
	}
	return &CachedStore{hot: hot, backing: backing}, nil
}

// Get returns a copy of the tile; the hot set keeps its own buffer.
func (s *CachedStore) Get(key tile.Key) ([]byte, bool, error) {
	if data, ok := s.hot.Get(key); ok {
		return clone(data), true, nil
	}

	data, ok, err := s.backing.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.hot.Add(key, clone(data))
	return data, true, nil
}

func (s *CachedStore) Set(key tile.Key, value []byte) error {
	if err := s.backing.Set(key, value); err != nil {
		s.hot.Remove(key)
		return err
	}
	s.hot.Add(key, clone(value))
	return nil
}

// HotLen returns the number of tiles held in memory.
func (s *CachedStore) HotLen() int {
	return s.hot.Len()
}

func (s *CachedStore) Clear() error {
	s.hot.Purge()
	return s.backing.Clear()
}

func (s *CachedStore) Close() error {
	s.hot.Purge()
	return s.backing.Close()
}

func clone(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
