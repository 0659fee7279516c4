package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Options struct {
	Type       string
	FileDir    string
	SQLitePath string
	HotTiles   int
	Redis      RedisConfig
}

// New creates a store based on the store type. Persistent backends are
// wrapped in a CachedStore when HotTiles is positive.
func New(ctx context.Context, opts Options, log *zap.Logger) (Store, error) {
	var (
		s   Store
		err error
	)

	switch opts.Type {
	case "memory":
		log.Info("Using memory store")
		return NewMemoryStore(), nil
	case "disabled":
		log.Info("Store disabled")
		return NewNoopStore(), nil
	case "file":
		log.Info("Using file store", zap.String("dir", opts.FileDir))
		s, err = NewFileStore(opts.FileDir)
	case "sqlite":
		log.Info("Using sqlite store", zap.String("path", opts.SQLitePath))
		s, err = NewSQLiteStore(opts.SQLitePath, log)
	case "redis":
		log.Info("Using redis store",
			zap.String("addr", opts.Redis.Addr),
			zap.Int("db", opts.Redis.DB),
			zap.Duration("ttl", opts.Redis.TTL),
		)
		s, err = NewRedisStore(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: memory, file, sqlite, redis, disabled)", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	if opts.HotTiles <= 0 {
		return s, nil
	}
	log.Info("Caching hot tiles in memory", zap.Int("max_tiles", opts.HotTiles))
	cached, err := NewCachedStore(s, opts.HotTiles)
	if err != nil {
		s.Close()
		return nil, err
	}
	return cached, nil
}
