package core

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCache struct {
	cli *redis.Client
}

func newRedisCache(cfg RedisConfig) *redisCache {
	return &redisCache{
		cli: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redisCache) SetEx(ctx context.Context, key, value string, expiresAt time.Duration) error {
	return c.cli.SetEx(ctx, key, value, expiresAt).Err()
}

func (c *redisCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}
