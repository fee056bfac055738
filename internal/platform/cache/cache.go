// Package cache provides a Redis-backed JSON value cache with a fixed TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store reads and writes JSON values under a key prefix.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New creates a Store. A non-positive ttl stores values without expiry.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Get decodes the value stored under key into v.
func (s *Store) Get(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}

// Set stores v under key.
func (s *Store) Set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// scanBatch is the COUNT hint passed to SCAN by Flush.
const scanBatch = 500

// Flush deletes every key under the store's prefix and returns how many were
// removed. A store without a prefix refuses to flush.
func (s *Store) Flush(ctx context.Context) (int, error) {
	if s.prefix == "" {
		return 0, errors.New("cache flush: store has no key prefix")
	}
	deleted := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			n, err := s.client.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, fmt.Errorf("cache flush: %w", err)
			}
			deleted += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache flush: %w", err)
	}
	if len(batch) > 0 {
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache flush: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}
