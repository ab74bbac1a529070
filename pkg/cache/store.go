package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Lookup and Touch when no entry exists.
var ErrMiss = errors.New("cache miss")

const (
	fieldBody         = "body"
	fieldETag         = "etag"
	fieldLastModified = "last_modified"
	fieldStoredAt     = "stored_at"
)

// Store persists entries in Redis hashes.
type Store struct {
	redis *redis.Client
}

// NewStore creates a store on the given Redis client.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{redis: redisClient}
}

// Lookup returns the entry stored under key, or ErrMiss.
func (s *Store) Lookup(ctx context.Context, key string) (*Entry, error) {
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		dimeCacheErrorsTotal.WithLabelValues("lookup").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		dimeCacheMissesTotal.Inc()
		return nil, ErrMiss
	}

	entry := &Entry{
		Body:         []byte(fields[fieldBody]),
		ETag:         fields[fieldETag],
		LastModified: fields[fieldLastModified],
	}
	if unix, err := strconv.ParseInt(fields[fieldStoredAt], 10, 64); err == nil {
		entry.StoredAt = time.Unix(unix, 0)
	}

	dimeCacheHitsTotal.Inc()
	return entry, nil
}

// Save replaces the entry under key and lets it expire at expires.
func (s *Store) Save(ctx context.Context, key string, entry *Entry, expires time.Time) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldBody, entry.Body,
			fieldETag, entry.ETag,
			fieldLastModified, entry.LastModified,
			fieldStoredAt, entry.StoredAt.Unix(),
		)
		pipe.ExpireAt(ctx, key, expires)
		return nil
	})
	if err != nil {
		dimeCacheErrorsTotal.WithLabelValues("save").Inc()
		return fmt.Errorf("redis save %s: %w", key, err)
	}
	return nil
}

// Touch moves the expiry of an existing entry, typically after a 304.
func (s *Store) Touch(ctx context.Context, key string, expires time.Time) error {
	ok, err := s.redis.ExpireAt(ctx, key, expires).Result()
	if err != nil {
		dimeCacheErrorsTotal.WithLabelValues("touch").Inc()
		return fmt.Errorf("redis expireat: %w", err)
	}
	if !ok {
		return ErrMiss
	}
	return nil
}

// Forget removes the entry under key.
func (s *Store) Forget(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		dimeCacheErrorsTotal.WithLabelValues("forget").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
