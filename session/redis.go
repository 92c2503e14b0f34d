package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func key(provider, playID string) string {
	return fmt.Sprintf("seamless:session:%s:%s", provider, playID)
}

func (s *RedisStore) Put(ctx context.Context, provider, playID, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key(provider, playID), token, ttl).Err()
}

func (s *RedisStore) Active(ctx context.Context, provider, playID string) (string, error) {
	token, err := s.rdb.Get(ctx, key(provider, playID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return token, nil
}
