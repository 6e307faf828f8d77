package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when a non-blocking acquire fails
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimiter is a token-bucket limiter used in front of rate-limited HTTP
// upstreams (the quote service in particular).
type RateLimiter struct {
	rate       float64   // tokens per second
	burst      int       // bucket size
	tokens     float64   // current tokens
	lastUpdate time.Time // last refill
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter allowing rate requests per second with the
// given burst capacity.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = int(rate)
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	return NewRateLimiter(float64(requestsPerMinute)/60.0, burst)
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		select {
		case <-time.After(rl.nextTokenDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refill adds tokens for elapsed time, capped at burst. Caller holds the lock.
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastUpdate = now
}

// nextTokenDelay estimates how long until one token is available.
func (rl *RateLimiter) nextTokenDelay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	needed := 1.0 - rl.tokens
	if needed < 0 {
		needed = 0
	}
	wait := time.Duration(needed / rl.rate * float64(time.Second))

	// floor avoids busy-spinning on near-full buckets
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

// Stats returns the configured rate, burst and currently available tokens.
func (rl *RateLimiter) Stats() (rate float64, burst int, availableTokens float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.rate, rl.burst, rl.tokens
}
