package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenCache stores short-lived provider access tokens. Implementations must
// treat a miss as ("", nil); callers mint a fresh token on miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

var _ TokenCache = (*RedisTokenCache)(nil)

// RedisTokenCache shares cached tokens across instances, so a deployment of
// N replicas signs one JWT assertion per expiry window instead of N.
type RedisTokenCache struct {
	client RedisClient
}

func NewTokenCache(client RedisClient) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key)
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.client.Set(ctx, key, token, ttl)
}
