package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"fiscalai-backend/utils"

	"github.com/go-redis/redis/v8"
)

// Redis wraps the client used by the Idempotency-Key middleware. The cache is
// optional infrastructure: when REDIS_HOST is unset the app runs without it.
type Redis struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedis connects using REDIS_HOST/REDIS_PORT. Returns (nil, nil) when no
// host is configured.
func NewRedis() (*Redis, error) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return nil, nil
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	utils.LogSuccess("Redis connection successful")
	return &Redis{client: client, ctx: ctx}, nil
}

// Set stores a key-value pair with expiration.
func (r *Redis) Set(key string, value string, expiration time.Duration) error {
	return r.client.Set(r.ctx, key, value, expiration).Err()
}

// Get retrieves a value by key.
func (r *Redis) Get(key string) (string, error) {
	return r.client.Get(r.ctx, key).Result()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
