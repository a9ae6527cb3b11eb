package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps offsets in Redis, letting several client processes on one host share a
// measurement. Keys expire with the cache TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// ConnectRedis creates a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisStore) Load(ctx context.Context, key string) (CachedOffset, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedOffset{}, false, nil
	}
	if err != nil {
		return CachedOffset{}, false, fmt.Errorf("failed to GET %s: %w", key, err)
	}

	var entry CachedOffset
	if err := json.Unmarshal(raw, &entry); err != nil {
		return CachedOffset{}, false, nil
	}
	return entry, true, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, offset CachedOffset) error {
	data, err := json.Marshal(offset)
	if err != nil {
		return fmt.Errorf("failed to marshal offset: %w", err)
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET %s: %w", key, err)
	}
	return nil
}
