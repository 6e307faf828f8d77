package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
)

// Endpoint represents a single RPC endpoint with health tracking.
type Endpoint struct {
	URL     string
	Weight  int
	Client  *rpc.Client
	healthy atomic.Bool
	credits int
}

// Pool manages multiple RPC endpoints with weighted round-robin selection
// and background health checks. Higher weight endpoints receive
// proportionally more calls.
type Pool struct {
	endpoints      []*Endpoint
	current        int
	mu             sync.RWMutex
	logger         *observability.Logger
	metrics        *observability.Metrics
	healthCheckTTL time.Duration
	cancel         context.CancelFunc
}

// PoolConfig holds RPC pool configuration.
type PoolConfig struct {
	Endpoints      []EndpointConfig
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	HealthCheckTTL time.Duration
}

// EndpointConfig represents a single endpoint entry.
type EndpointConfig struct {
	URL    string
	Weight int
}

// NewPool creates an RPC pool over the configured endpoints.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	if cfg.HealthCheckTTL == 0 {
		cfg.HealthCheckTTL = 30 * time.Second
	}

	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, epCfg := range cfg.Endpoints {
		weight := epCfg.Weight
		if weight <= 0 {
			weight = 1
		}
		endpoint := &Endpoint{
			URL:    epCfg.URL,
			Weight: weight,
			Client: rpc.New(epCfg.URL),
		}
		// JSON-RPC over HTTP has no dial step, so endpoints start healthy
		// and the first health check corrects the optimism.
		endpoint.healthy.Store(true)
		endpoints = append(endpoints, endpoint)

		cfg.Logger.Info("registered RPC endpoint",
			"url", epCfg.URL,
			"weight", weight,
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		endpoints:      endpoints,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		healthCheckTTL: cfg.HealthCheckTTL,
		cancel:         cancel,
	}

	go pool.startHealthChecks(ctx)

	return pool, nil
}

// Client returns the next healthy client using weighted round-robin.
// Each endpoint is served Weight times before the cursor advances.
func (p *Pool) Client() (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attempts := 0
	for attempts < len(p.endpoints) {
		endpoint := p.endpoints[p.current]

		if endpoint.healthy.Load() {
			endpoint.credits++
			if endpoint.credits >= endpoint.Weight {
				endpoint.credits = 0
				p.current = (p.current + 1) % len(p.endpoints)
			}
			return endpoint.Client, nil
		}

		endpoint.credits = 0
		p.current = (p.current + 1) % len(p.endpoints)
		attempts++
	}

	return nil, fmt.Errorf("no healthy RPC endpoints available")
}

// MarkUnhealthy flags an endpoint so selection skips it until the next
// successful health check.
func (p *Pool) MarkUnhealthy(url string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			wasHealthy := endpoint.healthy.Swap(false)
			if wasHealthy {
				p.logger.Warn("marking RPC endpoint as unhealthy", "url", url)
				if p.metrics != nil {
					p.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
				}
			}
			return
		}
	}
}

func (p *Pool) startHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(p.healthCheckTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAllEndpoints(ctx)
		}
	}
}

func (p *Pool) checkAllEndpoints(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	p.mu.RLock()
	endpoints := p.endpoints
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			p.checkEndpoint(checkCtx, ep)
		}(endpoint)
	}
	wg.Wait()
}

func (p *Pool) checkEndpoint(ctx context.Context, endpoint *Endpoint) {
	out, err := endpoint.Client.GetHealth(ctx)
	if err != nil || out != rpc.HealthOk {
		// Context expiry means our deadline fired, not that the node is bad.
		if ctx.Err() != nil {
			p.logger.Debug("RPC health check timed out, keeping state",
				"url", endpoint.URL,
			)
			return
		}

		wasHealthy := endpoint.healthy.Swap(false)
		if wasHealthy {
			p.logger.LogError(ctx, "RPC endpoint health check failed", err,
				"url", endpoint.URL,
			)
		}
		if p.metrics != nil {
			p.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, false)
		}
		return
	}

	wasUnhealthy := !endpoint.healthy.Swap(true)
	if wasUnhealthy {
		p.logger.Info("RPC endpoint is now healthy", "url", endpoint.URL)
	}
	if p.metrics != nil {
		p.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, true)
	}
}

// HealthyCount returns the number of endpoints currently marked healthy.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, endpoint := range p.endpoints {
		if endpoint.healthy.Load() {
			count++
		}
	}
	return count
}

// EndpointStatus returns the health flag per endpoint URL.
func (p *Pool) EndpointStatus() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := make(map[string]bool, len(p.endpoints))
	for _, endpoint := range p.endpoints {
		status[endpoint.URL] = endpoint.healthy.Load()
	}
	return status
}

// Close stops the background health checker and releases clients.
func (p *Pool) Close() {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, endpoint := range p.endpoints {
		endpoint.Client.Close()
	}

	p.logger.Info("closed all RPC client connections")
}
