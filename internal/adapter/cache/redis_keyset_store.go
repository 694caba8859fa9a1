package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trioll/trioll-developer-portal/internal/repository"
)

const keySetPrefix = "jwks:"

// RedisKeySetStore implements KeySetStore backed by Redis.
type RedisKeySetStore struct {
	client redis.UniversalClient
}

var _ repository.KeySetStore = (*RedisKeySetStore)(nil)

// NewRedisKeySetStore constructs a Redis-backed key set store.
func NewRedisKeySetStore(client redis.UniversalClient) *RedisKeySetStore {
	return &RedisKeySetStore{client: client}
}

// SaveKeySet stores the raw JWKS document with TTL.
func (s *RedisKeySetStore) SaveKeySet(ctx context.Context, url string, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keySetPrefix+url, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist key set: %w", err)
	}
	return nil
}

// GetKeySet loads the raw JWKS document; a miss returns nil without error.
func (s *RedisKeySetStore) GetKeySet(ctx context.Context, url string) ([]byte, error) {
	payload, err := s.client.Get(ctx, keySetPrefix+url).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load key set: %w", err)
	}
	return payload, nil
}
