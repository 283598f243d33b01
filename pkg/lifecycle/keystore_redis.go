package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyStore backs the duplicate-transition guard with Redis so the
// dedupe window survives process restarts and spans replicas.
type RedisKeyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeyStore connects a key store to Redis. A ttl of zero means keys
// never expire.
func NewRedisKeyStore(addr, password string, db int, ttl time.Duration) *RedisKeyStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisKeyStore{client: rdb, ttl: ttl}
}

// NewRedisKeyStoreFromClient wraps an existing client, e.g. one shared with
// the rate limiter.
func NewRedisKeyStoreFromClient(client *redis.Client, ttl time.Duration) *RedisKeyStore {
	return &RedisKeyStore{client: client, ttl: ttl}
}

func redisRunPrefix(runID string) string {
	return "attest:dedupe:" + runID + ":"
}

// Record registers the key with SETNX semantics.
func (s *RedisKeyStore) Record(ctx context.Context, runID, key string) (bool, error) {
	first, err := s.client.SetNX(ctx, redisRunPrefix(runID)+key, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return first, nil
}

// ClearRun deletes every key under the run's prefix.
func (s *RedisKeyStore) ClearRun(ctx context.Context, runID string) error {
	iter := s.client.Scan(ctx, 0, redisRunPrefix(runID)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisKeyStore) Close() error {
	return s.client.Close()
}
