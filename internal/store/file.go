package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tilewire/internal/tile"
)

// FileStore implements file-based storage
// Structure: {dir}/{drawableID}/{main|shadow}/{index}.tile
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileStore{
		dir: dir,
	}, nil
}

func (s *FileStore) buildFilePath(key tile.Key) string {
	plane := "main"
	if key.Shadow {
		plane = "shadow"
	}
	return filepath.Join(s.dir, strconv.Itoa(int(key.DrawableID)), plane, fmt.Sprintf("%d.tile", key.Index))
}

func (s *FileStore) Get(key tile.Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.buildFilePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read tile %s: %w", key, err)
	}

	return data, true, nil
}

func (s *FileStore) Set(key tile.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit tile %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to clear store directory: %w", err)
	}

	return os.MkdirAll(s.dir, 0755)
}

func (s *FileStore) Close() error {
	return nil
}
