package cache

import (
	"context"
	"sync"
	"time"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
)

// WarmupProvider preloads its keys into the cache. Implementations must be
// idempotent; the warmer may run them again after a reconnect.
type WarmupProvider interface {
	// Name identifies the provider in logs and results.
	Name() string
	// Warmup populates the cache with the provider's hot keys.
	Warmup(ctx context.Context) error
}

// WarmupConfig tunes warmup behavior.
type WarmupConfig struct {
	// Timeout bounds the whole warmup run.
	Timeout time.Duration
	// ContinueOnError keeps sequential warmup going past a failed provider.
	ContinueOnError bool
	// Parallel runs providers concurrently.
	Parallel bool
}

// DefaultWarmupConfig returns the defaults used at service startup.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult is the outcome for one provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults aggregates a warmup run.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors reports whether any provider failed.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered providers at startup so the first intents hit a
// populated cache instead of paying cold RPC reads.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	return &Warmer{
		providers: make([]WarmupProvider, 0),
		logger:    logger,
		config:    config,
	}
}

// RegisterProvider adds a provider to the warmup run.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup executes all registered providers and returns per-provider timing
// and errors. A provider failure never fails the run as a whole; callers
// inspect the results.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{
		Results: make([]WarmupResult, 0, len(w.providers)),
	}

	if len(w.providers) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "cache warmup finished with errors",
			"failed", results.Errors,
			"providers", len(w.providers),
			"duration", results.TotalTime.String(),
		)
	} else {
		w.logger.LogInfo(ctx, "cache warmup finished",
			"providers", len(w.providers),
			"duration", results.TotalTime.String(),
		)
	}

	return results
}

func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	var wg sync.WaitGroup
	resultsCh := make(chan WarmupResult, len(w.providers))

	for _, provider := range w.providers {
		wg.Add(1)
		go func(p WarmupProvider) {
			defer wg.Done()
			resultsCh <- w.warmupProvider(ctx, p)
		}(provider)
	}
	wg.Wait()
	close(resultsCh)

	results := make([]WarmupResult, 0, len(w.providers))
	for r := range resultsCh {
		results = append(results, r)
	}
	return results
}

func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))
	for _, provider := range w.providers {
		result := w.warmupProvider(ctx, provider)
		results = append(results, result)
		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}
	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, "cache warmup provider failed",
			"provider", name, "duration", duration.String(), "error", err.Error())
	} else {
		w.logger.LogDebug(ctx, "cache warmup provider finished",
			"provider", name, "duration", duration.String())
	}

	return WarmupResult{Provider: name, Duration: duration, Err: err}
}
