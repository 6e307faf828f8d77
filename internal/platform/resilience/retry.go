// Package resilience provides retry-with-backoff and circuit-breaker
// wrappers used around every upstream call (RPC reads, quote fetches, relay
// submission, the remote signer).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Retry executes a function with exponential backoff. Only errors classified
// as transient by IsRetryable are retried; permanent errors return
// immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	return RetryIf(ctx, cfg, IsRetryable, fn)
}

// RetryWithResult executes a function returning a value with the same retry
// policy as Retry.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	return RetryIfWithResult(ctx, cfg, IsRetryable, fn)
}

// RetryIf executes a function with retry gated on a custom error classifier.
func RetryIf(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) error) error {
	_, err := RetryIfWithResult(ctx, cfg, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryIfWithResult executes a function returning a value, retrying while the
// classifier reports the error as transient and attempts remain.
func RetryIfWithResult[T any](ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(backoffDelay(attempt, cfg)):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// backoffDelay computes baseDelay * 2^attempt capped at MaxDelay, with
// optional jitter.
func backoffDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		amount := delay * cfg.Jitter
		delay = delay - amount + rand.Float64()*amount*2
	}
	return time.Duration(delay)
}

// IsRetryable classifies an error as transient (worth retrying) or permanent.
// Timeouts, rate limits and 5xx responses are transient. Validation failures,
// slippage and insufficient-funds errors are permanent: retrying them risks
// double-spending or double-opening a position.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "slippage"),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "invalid param"),
		strings.Contains(msg, "custom program error"):
		return false
	}

	// Client errors other than rate limiting are permanent.
	if strings.Contains(msg, "status code 4") && !strings.Contains(msg, "status code 429") {
		return false
	}

	return true
}

// IsStaleBlockhash reports whether an error indicates the transaction's
// expiry handle aged out before broadcast. These are retried with a freshly
// fetched handle rather than as-is.
func IsStaleBlockhash(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhash not found") ||
		strings.Contains(msg, "blockhashnotfound") ||
		strings.Contains(msg, "block height exceeded")
}
