// Package catalog persists drawable definitions as JSON files so a server
// comes back with the same drawables after a restart.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Entry struct {
	ID     int32  `json:"id"`
	Name   string `json:"name,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	BPP    int    `json:"bpp"`
}

// Catalog stores one {id}.json file per drawable in dir.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[int32]Entry
}

func New(dir string, logger *zap.Logger) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return &Catalog{
		dir:     dir,
		logger:  logger,
		entries: make(map[int32]Entry),
	}, nil
}

// Scan reloads every entry from disk. Files that do not parse, or whose
// id does not match their filename, are deleted.
func (c *Catalog) Scan() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory: %w", err)
	}

	entries := make(map[int32]Entry)
	for _, de := range dirEntries {
		if de.IsDir() || strings.ToLower(filepath.Ext(de.Name())) != ".json" {
			continue
		}

		path := c.getFilePath(de.Name())
		basename := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))

		e, err := c.loadEntry(path)
		if err != nil {
			c.logger.Warn("Invalid drawable metadata", zap.String("path", path), zap.Error(err))
			c.remove(path)
			continue
		}

		if strconv.Itoa(int(e.ID)) != basename {
			c.logger.Warn("Drawable id mismatch in metadata",
				zap.String("path", path),
				zap.String("filename_id", basename),
				zap.Int32("json_id", e.ID))
			c.remove(path)
			continue
		}

		entries[e.ID] = *e
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Info("Drawable catalog scanned", zap.String("dir", c.dir), zap.Int("drawables", len(entries)))
	return nil
}

func (c *Catalog) remove(path string) {
	if err := os.Remove(path); err != nil {
		c.logger.Warn("Failed to delete drawable metadata", zap.String("path", path), zap.Error(err))
	} else {
		c.logger.Info("Deleted drawable metadata", zap.String("path", path))
	}
}

// Entries lists the catalog ordered by id.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int { return int(a.ID) - int(b.ID) })
	return out
}

func (c *Catalog) Get(id int32) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Save writes e to disk, replacing any entry with the same id.
func (c *Catalog) Save(e Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := c.getFilePath(fmt.Sprintf("%d.json", e.ID))
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit metadata: %w", err)
	}

	c.mu.Lock()
	c.entries[e.ID] = e
	c.mu.Unlock()

	c.logger.Info("Saved drawable metadata", zap.Int32("drawable", e.ID), zap.String("path", path))
	return nil
}

func (c *Catalog) getFilePath(filename string) string {
	return filepath.Join(c.dir, filename)
}

func (c *Catalog) loadEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if e.Width <= 0 || e.Height <= 0 || e.BPP <= 0 {
		return nil, fmt.Errorf("incomplete metadata: %+v", e)
	}
	return &e, nil
}
