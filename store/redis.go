package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// RedisKV implements KeyValueStore using go-redis/v9. It is the default
// warm tier: session records are cached here under a TTL equal to the
// session timeout, so an idle session ages out of the cache on its own.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV creates a Redis-backed KeyValueStore with the given options
// and verifies connectivity with a ping.
func NewRedisKV(opts RedisOptions) (*RedisKV, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

// Get retrieves the value stored under key.
func (s *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: GET %s: %v", ErrStorageFailed, key, err)
	}
	return val, nil
}

// SetWithTTL stores value under key with the given time-to-live.
func (s *RedisKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %v", ErrStorageFailed, key, err)
	}
	return nil
}

// Delete removes the value stored under key.
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: DEL %s: %v", ErrStorageFailed, key, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether key currently holds a value.
func (s *RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: EXISTS %s: %v", ErrStorageFailed, key, err)
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (s *RedisKV) Close() error {
	return s.client.Close()
}
