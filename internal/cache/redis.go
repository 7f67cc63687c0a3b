package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis implements Cache on a redis client. Locks are plain SET NX keys with
// a TTL so a crashed holder cannot starve a resource.
type Redis struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedis(client *redis.Client, logger *zerolog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug().Err(err).Str("key", key).Msg("cache get failed")
		}
		return "", ErrMiss
	}
	return val, nil
}

func (c *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *Redis) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Redis) ReleaseLock(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
