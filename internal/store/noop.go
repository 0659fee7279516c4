package store

import "tilewire/internal/tile"

// NoopStore discards writes; every tile reads back as a miss.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) Get(key tile.Key) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *NoopStore) Set(key tile.Key, value []byte) error {
	return nil
}

func (s *NoopStore) Clear() error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
