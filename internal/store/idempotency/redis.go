package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis instance. SETNX gives the
// required cross-process atomicity; TTL bounds store growth.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) CheckAndMark(ctx context.Context, namespace, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	first, err := s.rdb.SetNX(ctx, namespace+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: setnx %s%s: %w", namespace, key, err)
	}
	return first, nil
}

func (s *RedisStore) Remove(ctx context.Context, namespace, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.rdb.Del(ctx, namespace+key).Err(); err != nil {
		return fmt.Errorf("idempotency: del %s%s: %w", namespace, key, err)
	}
	return nil
}
