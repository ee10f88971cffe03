// Package redisblob implements the BlobStore contract on Redis. Uploaded
// documents are short-lived working data, so entries carry a TTL.
package redisblob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// Store is a Redis-backed blob store.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis and verifies the connection, retrying briefly so
// the service survives a store that is still coming up.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func blobKey(locator string) string {
	return fmt.Sprintf("docblob:%s", locator)
}

func (s *Store) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	locator := uuid.New().String()
	if err := s.rdb.Set(ctx, blobKey(locator), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("set blob: %w", err)
	}
	return locator, nil
}

func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, blobKey(locator)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, locator string) error {
	if err := s.rdb.Del(ctx, blobKey(locator)).Err(); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
