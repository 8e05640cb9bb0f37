package urlcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "movinesta:signed-url:"

// RedisStore is a Cache backed by Redis, for setups where several processes
// (CLI sessions, agents) share one signed-URL cache. Expiry is enforced by
// Redis itself with the same early-refresh margin as the in-process store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the client's
// lifecycle.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Cache. Any Redis error is reported as a miss; the caller
// will mint a fresh URL, which is the correct degraded behavior.
func (s *RedisStore) Get(ctx context.Context, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	url, err := s.client.Get(ctx, redisKeyPrefix+path).Result()
	if err != nil || url == "" {
		return "", false
	}
	return url, true
}

// Set implements Cache. TTLs at or below the refresh margin are not stored.
func (s *RedisStore) Set(ctx context.Context, path, url string, ttlSeconds int) {
	if path == "" || url == "" {
		return
	}
	ttl := time.Duration(ttlSeconds)*time.Second - RefreshMargin
	if ttl <= 0 {
		return
	}
	_ = s.client.Set(ctx, redisKeyPrefix+path, url, ttl).Err()
}

// Clear removes every cached URL this store wrote.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
