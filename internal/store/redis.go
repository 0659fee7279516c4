package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tilewire/internal/tile"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps tiles as plain string values with a TTL. A zero TTL
// means tiles never expire.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisStore) keyFor(key tile.Key) string {
	return fmt.Sprintf("tile:%d:%d:%d", key.DrawableID, shadowInt(key.Shadow), key.Index)
}

func (s *RedisStore) Get(key tile.Key) ([]byte, bool, error) {
	data, err := s.client.Get(context.Background(), s.keyFor(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(key tile.Key, value []byte) error {
	if err := s.client.Set(context.Background(), s.keyFor(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Clear removes every tile key; other keys in the database are left alone.
func (s *RedisStore) Clear() error {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, "tile:*", 256).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del error: %w", err)
		}
	}
	return iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
