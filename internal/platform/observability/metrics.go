package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Pipeline metrics
	IntentsStarted   metric.Int64Counter
	IntentsCompleted metric.Int64Counter
	PipelineDuration metric.Float64Histogram

	// Quote service metrics
	QuoteCalls    metric.Int64Counter
	QuoteDuration metric.Float64Histogram

	// Submission metrics
	EnvelopesSubmitted  metric.Int64Counter
	SubmissionDuration  metric.Float64Histogram
	ConfirmationLatency metric.Float64Histogram
	BundleStatusPolls   metric.Int64Counter

	// Ledger read metrics
	RPCEndpointHealth metric.Int64Gauge
	LedgerReads       metric.Int64Counter

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.IntentsStarted, err = m.meter.Int64Counter(
		"provision_intents_started_total",
		metric.WithDescription("Liquidity intents accepted by the pipeline"),
	)
	if err != nil {
		return err
	}

	m.IntentsCompleted, err = m.meter.Int64Counter(
		"provision_intents_completed_total",
		metric.WithDescription("Liquidity intents reaching a terminal state, by outcome"),
	)
	if err != nil {
		return err
	}

	m.PipelineDuration, err = m.meter.Float64Histogram(
		"provision_pipeline_duration_seconds",
		metric.WithDescription("End-to-end pipeline duration per intent"),
	)
	if err != nil {
		return err
	}

	m.QuoteCalls, err = m.meter.Int64Counter(
		"quote_calls_total",
		metric.WithDescription("Swap quote fetches, by status"),
	)
	if err != nil {
		return err
	}

	m.QuoteDuration, err = m.meter.Float64Histogram(
		"quote_duration_seconds",
		metric.WithDescription("Swap quote fetch duration"),
	)
	if err != nil {
		return err
	}

	m.EnvelopesSubmitted, err = m.meter.Int64Counter(
		"submit_envelopes_total",
		metric.WithDescription("Envelopes handed to the signer or relay, by path and status"),
	)
	if err != nil {
		return err
	}

	m.SubmissionDuration, err = m.meter.Float64Histogram(
		"submit_duration_seconds",
		metric.WithDescription("Per-envelope submission duration"),
	)
	if err != nil {
		return err
	}

	m.ConfirmationLatency, err = m.meter.Float64Histogram(
		"submit_confirmation_latency_seconds",
		metric.WithDescription("Time from broadcast to terminal signature status"),
	)
	if err != nil {
		return err
	}

	m.BundleStatusPolls, err = m.meter.Int64Counter(
		"submit_bundle_status_polls_total",
		metric.WithDescription("Bundle status poll iterations"),
	)
	if err != nil {
		return err
	}

	m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"ledger_rpc_endpoint_healthy",
		metric.WithDescription("Health of each ledger RPC endpoint (1=healthy, 0=unhealthy)"),
	)
	if err != nil {
		return err
	}

	m.LedgerReads, err = m.meter.Int64Counter(
		"ledger_reads_total",
		metric.WithDescription("Ledger read operations, by method and status"),
	)
	if err != nil {
		return err
	}

	m.CacheHits, err = m.meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Cache hits by layer"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Cache misses by layer"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"circuit_breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Errors by type"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordIntentStarted records a new intent entering the pipeline.
func (m *Metrics) RecordIntentStarted(ctx context.Context, poolModel string) {
	if m.IntentsStarted != nil {
		m.IntentsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pool_model", poolModel),
		))
	}
}

// RecordIntentCompleted records a terminal pipeline outcome.
func (m *Metrics) RecordIntentCompleted(ctx context.Context, poolModel, outcome string, duration time.Duration) {
	if m.IntentsCompleted != nil {
		m.IntentsCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pool_model", poolModel),
			attribute.String("outcome", outcome),
		))
	}
	if m.PipelineDuration != nil {
		m.PipelineDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("pool_model", poolModel),
		))
	}
}

// RecordQuoteCall records a swap quote fetch.
func (m *Metrics) RecordQuoteCall(ctx context.Context, status string, duration time.Duration) {
	if m.QuoteCalls != nil {
		m.QuoteCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
	if m.QuoteDuration != nil {
		m.QuoteDuration.Record(ctx, duration.Seconds())
	}
}

// RecordEnvelopeSubmitted records an envelope handed to the signer or relay.
func (m *Metrics) RecordEnvelopeSubmitted(ctx context.Context, path, status string, duration time.Duration) {
	if m.EnvelopesSubmitted != nil {
		m.EnvelopesSubmitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("status", status),
		))
	}
	if m.SubmissionDuration != nil {
		m.SubmissionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("path", path),
		))
	}
}

// RecordConfirmationLatency records broadcast-to-terminal-status latency.
func (m *Metrics) RecordConfirmationLatency(ctx context.Context, duration time.Duration) {
	if m.ConfirmationLatency != nil {
		m.ConfirmationLatency.Record(ctx, duration.Seconds())
	}
}

// RecordBundlePoll records one bundle status poll iteration.
func (m *Metrics) RecordBundlePoll(ctx context.Context, status string) {
	if m.BundleStatusPolls != nil {
		m.BundleStatusPolls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

// RecordRPCEndpointHealth records endpoint health state.
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	if m.RPCEndpointHealth != nil {
		val := int64(0)
		if healthy {
			val = 1
		}
		m.RPCEndpointHealth.Record(ctx, val, metric.WithAttributes(
			attribute.String("url", url),
		))
	}
}

// RecordLedgerRead records a ledger read operation.
func (m *Metrics) RecordLedgerRead(ctx context.Context, method, status string) {
	if m.LedgerReads != nil {
		m.LedgerReads.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		))
	}
}

// RecordCacheHit records a cache hit for a layer.
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if m.CacheHits != nil {
		m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
	}
}

// RecordCacheMiss records a cache miss for a layer.
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if m.CacheMisses != nil {
		m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
	}
}

// SetCircuitBreakerState records breaker state for an upstream.
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, upstream string, state int64) {
	if m.CircuitBreakerState != nil {
		m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(
			attribute.String("upstream", upstream),
		))
	}
}

// RecordError records an error occurrence by type.
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors != nil {
		m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
