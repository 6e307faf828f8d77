package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultL1MaxTTL bounds how long an entry lives in the memory tier. Kept
// short so an invalidation on another instance converges quickly.
const DefaultL1MaxTTL = 1 * time.Minute

// Observer receives layer-attributed hit and miss events.
type Observer interface {
	RecordCacheHit(ctx context.Context, layer string)
	RecordCacheMiss(ctx context.Context, layer string)
}

// LayeredCache is a two-tier cache: a fast in-process L1 in front of a
// shared Redis L2. Either tier may be nil.
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
	logger   *slog.Logger
	observer Observer
}

// LayeredCacheConfig configures a layered cache.
type LayeredCacheConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// NewLayeredCacheWithConfig creates a layered cache from a config.
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// NewLayeredCache creates a layered cache with default settings.
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithLogger creates a layered cache that logs tier
// degradation.
func NewLayeredCacheWithLogger(l1, l2 Cache, logger *slog.Logger) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, Logger: logger})
}

// WithObserver attaches a hit/miss observer.
func (lc *LayeredCache) WithObserver(obs Observer) *LayeredCache {
	lc.observer = obs
	return lc
}

func (lc *LayeredCache) hit(ctx context.Context, layer string) {
	if lc.observer != nil {
		lc.observer.RecordCacheHit(ctx, layer)
	}
}

func (lc *LayeredCache) miss(ctx context.Context, layer string) {
	if lc.observer != nil {
		lc.observer.RecordCacheMiss(ctx, layer)
	}
}

// Get reads through the tiers in order. An L2 hit backfills L1 with the
// capped TTL. An L1 failure degrades to L2; an L2 failure other than a
// plain miss is surfaced, because the caller cannot tell a missing key
// from an unreachable shared tier.
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		switch {
		case err == nil:
			lc.hit(ctx, "l1")
			return val, nil
		case !errors.Is(err, ErrNotFound):
			if lc.logger != nil {
				lc.logger.Warn("L1 cache read failed, degrading to L2",
					"key", key, "error", err)
			}
		}
		lc.miss(ctx, "l1")
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		switch {
		case err == nil:
			lc.hit(ctx, "l2")
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		case !errors.Is(err, ErrNotFound):
			lc.miss(ctx, "l2")
			return nil, err
		}
		lc.miss(ctx, "l2")
	}

	return nil, ErrNotFound
}

// Set writes through to both tiers. L1 TTL is capped at the configured
// maximum. Fails only when every configured tier failed.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if ttl > lc.l1MaxTTL {
			l1TTL = lc.l1MaxTTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL)
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	if l1Err != nil && l2Err != nil {
		return l2Err
	}
	return nil
}

// Delete removes the key from both tiers. Unlike Set, a single tier
// failure is an error: a surviving stale entry would defeat invalidation.
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Delete(ctx, key)
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Delete(ctx, key)
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// Close closes both tiers.
func (lc *LayeredCache) Close() error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Close()
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Close()
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// InvalidateL1 drops only the in-process entry, forcing the next read to
// hit the shared tier.
func (lc *LayeredCache) InvalidateL1(ctx context.Context, key string) error {
	if lc.l1 != nil {
		return lc.l1.Delete(ctx, key)
	}
	return nil
}
