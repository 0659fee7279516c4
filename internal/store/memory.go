package store

import (
	"sync"

	"tilewire/internal/tile"
)

// MemoryStore keeps every tile in a map. Nothing is evicted.
type MemoryStore struct {
	mu    sync.RWMutex
	tiles map[tile.Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tiles: make(map[tile.Key][]byte)}
}

func (s *MemoryStore) Get(key tile.Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.tiles[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *MemoryStore) Set(key tile.Key, value []byte) error {
	data := make([]byte, len(value))
	copy(data, value)

	s.mu.Lock()
	s.tiles[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	clear(s.tiles)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
