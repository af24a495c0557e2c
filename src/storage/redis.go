package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis server at redisURL. A zero ttl stores keys without expiry.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Get retrieves a blob from Redis
func (r *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}

	// Refresh TTL on read so an active profile never expires
	if r.ttl > 0 {
		r.client.Expire(ctx, name, r.ttl)
	}
	return data, nil
}

// Set stores a blob with the configured TTL
func (r *RedisStore) Set(ctx context.Context, name string, value []byte) error {
	if err := r.client.Set(ctx, name, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// Remove deletes a key; removing a missing key is not an error
func (r *RedisStore) Remove(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, name).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN instead of KEYS to avoid blocking the server
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// GetTTL gets remaining TTL for a key
func (r *RedisStore) GetTTL(ctx context.Context, name string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL: %w", err)
	}
	return ttl, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
