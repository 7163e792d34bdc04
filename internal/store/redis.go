package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moodroom/moodroom/internal/domain"
)

// RedisStore keeps room metadata as JSON under room:<id>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return &RedisStore{rdb: rdb}
}

func key(id domain.RoomID) string { return "room:" + string(id) }

func (s *RedisStore) Lookup(ctx context.Context, id domain.RoomID) (domain.RoomMeta, bool, error) {
	raw, err := s.rdb.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.RoomMeta{}, false, nil
	}
	if err != nil {
		return domain.RoomMeta{}, false, fmt.Errorf("store: lookup %s: %w", id, err)
	}
	var meta domain.RoomMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return domain.RoomMeta{}, false, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return meta, true, nil
}

func (s *RedisStore) Save(ctx context.Context, meta domain.RoomMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", meta.ID, err)
	}
	if err := s.rdb.Set(ctx, key(meta.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store: save %s: %w", meta.ID, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
