// Package cache provides the layered caching used for ledger-derived state:
// a fast in-process LRU (L1) in front of a shared Redis tier (L2), plus a
// warmup framework for preloading known-hot keys at startup. Position
// listings are the primary consumer; the provisioning pipeline invalidates
// them after a successful submission.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not present in any tier.
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a cached value cannot be used.
	ErrInvalidValue = errors.New("cache: invalid value")
)

// Cache is the tier-agnostic cache surface.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
