package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/redis/go-redis/v9"
)

var _ models.KeyValueStore = (*RedisFlags)(nil)

// RedisFlags is a [models.KeyValueStore] on Redis. A non-zero ttl expires every value it writes,
// which suits short-lived navigation-intent flags.
type RedisFlags struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFlags wraps client. ttl of zero keeps values until deleted.
func NewRedisFlags(client *redis.Client, ttl time.Duration) *RedisFlags {
	return &RedisFlags{client: client, ttl: ttl}
}

// NewRedisClient parses url, connects, and pings to verify connectivity before returning.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

func (r *RedisFlags) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisFlags) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write flag %s: %w", key, err)
	}
	return nil
}

// Delete removes keys with one DEL, which Redis applies atomically.
func (r *RedisFlags) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete flags: %w", err)
	}
	return nil
}
