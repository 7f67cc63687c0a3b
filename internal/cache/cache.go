// Package cache provides the best-effort low-latency layer: simple key
// operations plus a short-TTL mutual-exclusion lock. Losing the cache never
// affects allocation correctness, only read performance and lock contention.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or the cache layer is
// unavailable. Callers fall back to the durable store either way.
var ErrMiss = errors.New("cache miss")

// Cache is the contract the allocator and status cache depend on. The no-op
// implementation makes the whole layer safe to omit.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// AcquireLock attempts a short-TTL exclusive lock. false means another
	// holder has it; errors are treated the same as false by callers.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Noop satisfies Cache without any backing store. Get always misses and
// AcquireLock always succeeds, so allocation proceeds on durable guarantees
// alone.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Get(ctx context.Context, key string) (string, error) { return "", ErrMiss }

func (Noop) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }

func (Noop) Delete(ctx context.Context, key string) error { return nil }

func (Noop) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (Noop) ReleaseLock(ctx context.Context, key string) error { return nil }
