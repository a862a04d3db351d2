// Package kv defines the key-value contract the core relies on for HTTP
// cache entries, delta hashes, dedupe/cooldown keys, cross-source records,
// and latency samples, and a Redis-backed implementation of it.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the concurrency-safe key-value contract the rest of the
// pipeline depends on. All
// enumeration is cursor-based; implementations must never block the
// backing store with a full key scan.
type Store interface {
	// Get returns the value and true if present, or ("", false) on miss.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value under key only if key is absent; returns true if it
	// was the one to set it. Used for at-most-once dedupe/cooldown writes.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes key, if present.
	Delete(ctx context.Context, key string) error
	// Scan iterates keys matching pattern via a non-blocking cursor.
	Scan(ctx context.Context, pattern string, fn func(key string) error) error
	// Close releases the underlying connection.
	Close() error
}

// RedisStore implements Store against a Redis-compatible server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses url (a redis:// DSN) and constructs a client,
// verifying connectivity with a Ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Scan(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
