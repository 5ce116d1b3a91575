// Package cache wraps the Redis key-value store used for rate-limit
// counters, the scrape cache and idempotency keys. Every backend failure
// is reported as a *StoreError so callers can tell "store unavailable"
// apart from a real answer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetJSON when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// StoreError tags a failure to reach or use the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("cache %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err is, or wraps, a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a thin adapter over a Redis client.
type Store struct {
	rdb redis.UniversalClient
}

// New wraps an existing client.
func New(rdb redis.UniversalClient) *Store { return &Store{rdb: rdb} }

// Dial returns a Store for o without contacting the server. Commands fail
// with a StoreError until Redis is reachable.
func Dial(o Options) *Store {
	return New(redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}))
}

// Open dials Redis and verifies the connection with PING.
func Open(ctx context.Context, o Options) (*Store, error) {
	s := Dial(o)
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Use runs fn against the store, tagging any failure with op.
// redis.Nil is passed through untouched so callers can detect misses.
func (s *Store) Use(ctx context.Context, op string, fn func(ctx context.Context, c redis.Cmdable) error) error {
	err := fn(ctx, s.rdb)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.Use(ctx, "ping", func(ctx context.Context, c redis.Cmdable) error {
		return c.Ping(ctx).Err()
	})
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// GetInt reads an integer counter, treating a missing key as 0.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.Use(ctx, "get", func(ctx context.Context, c redis.Cmdable) error {
		v, err := c.Get(ctx, key).Int64()
		n = v
		return err
	})
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// IncrWindow atomically increments key and (re)sets its expiry to ttl in a
// single MULTI/EXEC, returning the post-increment value.
func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.Use(ctx, "incr", func(ctx context.Context, c redis.Cmdable) error {
		pipe := c.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		n = incr.Val()
		return nil
	})
	return n, err
}

// GetJSON decodes the value stored at key into dst. Missing keys yield ErrMiss.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	var raw []byte
	err := s.Use(ctx, "get", func(ctx context.Context, c redis.Cmdable) error {
		b, err := c.Get(ctx, key).Bytes()
		raw = b
		return err
	})
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key with the given ttl.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return s.Use(ctx, "set", func(ctx context.Context, c redis.Cmdable) error {
		return c.Set(ctx, key, b, ttl).Err()
	})
}

// SetNX sets key only if it is absent. It reports whether the key was set.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.Use(ctx, "setnx", func(ctx context.Context, c redis.Cmdable) error {
		v, err := c.SetNX(ctx, key, value, ttl).Result()
		ok = v
		return err
	})
	return ok, err
}

// Del removes keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.Use(ctx, "del", func(ctx context.Context, c redis.Cmdable) error {
		return c.Del(ctx, keys...).Err()
	})
}
