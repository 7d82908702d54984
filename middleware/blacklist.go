package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklist treats any token stored as a key in Redis as revoked.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(redisURL string) (*RedisBlacklist, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &RedisBlacklist{client: redis.NewClient(opts)}, nil
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	v, err := b.client.Get(ctx, token).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != "", nil
}

func (b *RedisBlacklist) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}
