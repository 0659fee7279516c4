package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"tilewire/internal/tile"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "tiles"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tiles.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	cached, err := NewCachedStore(NewMemoryStore(), 2)
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
		"cached": cached,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreSetGet(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			main := tile.Key{DrawableID: 3, Index: 7}
			shadow := tile.Key{DrawableID: 3, Index: 7, Shadow: true}

			if _, ok, err := s.Get(main); err != nil || ok {
				t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
			}

			if err := s.Set(main, []byte{1, 2, 3, 4}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(shadow, []byte{9, 9, 9, 9}); err != nil {
				t.Fatalf("Set shadow: %v", err)
			}

			got, ok, err := s.Get(main)
			if err != nil || !ok {
				t.Fatalf("Get = ok %v, err %v", ok, err)
			}
			if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
				t.Errorf("main plane = %v", got)
			}

			got, _, _ = s.Get(shadow)
			if !bytes.Equal(got, []byte{9, 9, 9, 9}) {
				t.Errorf("shadow plane = %v", got)
			}

			if err := s.Set(main, []byte{5, 6, 7, 8}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _, _ = s.Get(main)
			if !bytes.Equal(got, []byte{5, 6, 7, 8}) {
				t.Errorf("after overwrite = %v", got)
			}

			if err := s.Clear(); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := s.Get(main); ok {
				t.Error("tile survived Clear")
			}
		})
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	key := tile.Key{DrawableID: 1}
	buf := []byte{1, 2}
	s.Set(key, buf)
	buf[0] = 42

	got, _, _ := s.Get(key)
	if got[0] != 1 {
		t.Errorf("stored value aliased caller buffer: %v", got)
	}
	got[1] = 42
	again, _, _ := s.Get(key)
	if again[1] != 2 {
		t.Errorf("returned value aliased stored buffer: %v", again)
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(tile.Key{DrawableID: 12, Index: 5, Shadow: true}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "12", "shadow", "5.tile")); err != nil {
		t.Errorf("tile file missing: %v", err)
	}
}

func TestCachedStoreServesHotTiles(t *testing.T) {
	backing := NewMemoryStore()
	s, err := NewCachedStore(backing, 1)
	if err != nil {
		t.Fatal(err)
	}

	a := tile.Key{Index: 1}
	b := tile.Key{Index: 2}
	s.Set(a, []byte{1})
	s.Set(b, []byte{2})

	if s.HotLen() != 1 {
		t.Fatalf("HotLen = %d, want 1", s.HotLen())
	}

	// a was pushed out of the hot set but is still in the backing store.
	got, ok, err := s.Get(a)
	if err != nil || !ok || got[0] != 1 {
		t.Fatalf("Get(a) = %v, %v, %v", got, ok, err)
	}

	backing.Clear()
	if _, ok, _ := s.Get(a); !ok {
		t.Error("hot tile not served from memory")
	}
	if _, ok, _ := s.Get(b); ok {
		t.Error("evicted tile served after backing store was cleared")
	}
}

func TestNoopStore(t *testing.T) {
	s := NewNoopStore()
	key := tile.Key{Index: 1}
	if err := s.Set(key, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(key); ok {
		t.Error("noop store returned a tile")
	}
}

func TestNewFromOptions(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	tests := []struct {
		name    string
		opts    Options
		want    string
		wantErr bool
	}{
		{name: "memory", opts: Options{Type: "memory"}, want: "*store.MemoryStore"},
		{name: "disabled", opts: Options{Type: "disabled"}, want: "*store.NoopStore"},
		{name: "file", opts: Options{Type: "file", FileDir: t.TempDir()}, want: "*store.FileStore"},
		{name: "file hot", opts: Options{Type: "file", FileDir: t.TempDir(), HotTiles: 8}, want: "*store.CachedStore"},
		{name: "sqlite", opts: Options{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "t.db")}, want: "*store.SQLiteStore"},
		{name: "unknown", opts: Options{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(ctx, tt.opts, log)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer s.Close()
			if got := fmt.Sprintf("%T", s); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, DB: 15})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	defer s.Clear()

	key := tile.Key{DrawableID: 2, Index: 4}
	if err := s.Set(key, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(key)
	if err != nil || !ok || !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
}

func TestCachedStoreCopiesValues(t *testing.T) {
	s, err := NewCachedStore(NewMemoryStore(), 4)
	if err != nil {
		t.Fatal(err)
	}
	key := tile.Key{DrawableID: 1}
	if err := s.Set(key, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	got[0] = 42
	again, _, _ := s.Get(key)
	if again[0] != 1 {
		t.Errorf("hot hit aliased the cached buffer: %v", again)
	}

	// A backing hit populates the hot set; the caller's copy must stay apart.
	s.hot.Purge()
	cold, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after purge = %v, %v, %v", cold, ok, err)
	}
	cold[1] = 42
	hot, _, _ := s.Get(key)
	if hot[1] != 2 {
		t.Errorf("backing hit aliased the cached buffer: %v", hot)
	}
}
