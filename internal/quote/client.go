// Package quote fetches swap quotes and pre-built swap transactions from an
// aggregator HTTP API. The returned swap legs arrive as base64 serialized
// versioned transactions and are wrapped as external envelopes so their
// structure and any embedded signatures survive untouched.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// SwapLeg is the result of a quote-and-build round trip: the external
// envelope holding the unsigned swap transaction plus the quoted amounts.
type SwapLeg struct {
	Envelope   *envelope.Envelope
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   money.TokenAmount
	OutAmount  money.TokenAmount
}

// Client fetches quotes from the aggregator.
type Client struct {
	http        *http.Client
	baseURL     string
	rateLimiter *resilience.RateLimiter
	cb          *resilience.CircuitBreaker
	retryCfg    resilience.RetryConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// ClientConfig holds quote client configuration.
type ClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimitRPM   int
	RateLimitBurst int
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// quoteResponse mirrors the aggregator's quote payload. The response is
// passed back verbatim in the swap request, so unknown fields ride along in
// RawMessage rather than being modeled.
type quoteResponse struct {
	InputMint  string          `json:"inputMint"`
	OutputMint string          `json:"outputMint"`
	InAmount   string          `json:"inAmount"`
	OutAmount  string          `json:"outAmount"`
	Raw        json.RawMessage `json:"-"`
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// NewClient creates a quote client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://quote-api.jup.ag/v6"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 600
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Jitter:      0.2,
		}
	}

	cb := cfg.CircuitBreaker
	if cb == nil {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "quote-api",
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		})
	}

	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		rateLimiter: resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst),
		cb:          cb,
		retryCfg:    cfg.RetryConfig,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// SwapQuoteAndTransaction quotes a swap and fetches the unsigned swap
// transaction for it. Returns (nil, nil) when input and output mints are
// identical: no swap leg is required and the caller deposits the funding
// asset directly. The step tag is attached to the resulting envelope.
//
// Safe to call concurrently for the two legs of a dual-asset deposit; each
// call is independent.
func (c *Client) SwapQuoteAndTransaction(ctx context.Context, inputMint, outputMint solana.PublicKey, amount money.TokenAmount, slippageBps money.BPS, funder solana.PublicKey, step envelope.Step) (*SwapLeg, error) {
	if inputMint.Equals(outputMint) {
		return nil, nil
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("quote amount must be positive")
	}

	start := time.Now()
	leg, err := resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) (*SwapLeg, error) {
		return resilience.RetryIfWithResult(ctx, c.retryCfg, resilience.IsRetryable, func(ctx context.Context) (*SwapLeg, error) {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}
			return c.fetchLeg(ctx, inputMint, outputMint, amount, slippageBps, funder, step)
		})
	})

	duration := time.Since(start)
	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordQuoteCall(ctx, status, duration)
	}

	if err != nil {
		return nil, err
	}

	c.logger.Info("fetched swap leg",
		"step", step.String(),
		"input_mint", inputMint.String(),
		"output_mint", outputMint.String(),
		"in_amount", leg.InAmount.Uint64(),
		"out_amount", leg.OutAmount.Uint64(),
		"duration_ms", duration.Milliseconds(),
	)
	return leg, nil
}

func (c *Client) fetchLeg(ctx context.Context, inputMint, outputMint solana.PublicKey, amount money.TokenAmount, slippageBps money.BPS, funder solana.PublicKey, step envelope.Step) (*SwapLeg, error) {
	quote, err := c.fetchQuote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return nil, err
	}

	encoded, err := c.fetchSwapTransaction(ctx, quote, funder)
	if err != nil {
		return nil, err
	}

	env, err := envelope.FromBase64(encoded, step)
	if err != nil {
		return nil, err
	}

	inAmount, err := strconv.ParseUint(quote.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quoted inAmount %q: %w", quote.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quoted outAmount %q: %w", quote.OutAmount, err)
	}

	return &SwapLeg{
		Envelope:   env,
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   money.TokenAmount(inAmount),
		OutAmount:  money.TokenAmount(outAmount),
	}, nil
}

func (c *Client) fetchQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount money.TokenAmount, slippageBps money.BPS) (*quoteResponse, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", outputMint.String())
	params.Set("amount", strconv.FormatUint(amount.Uint64(), 10))
	params.Set("slippageBps", strconv.FormatUint(slippageBps.Uint64(), 10))

	data, err := c.get(ctx, "/quote?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var quote quoteResponse
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	quote.Raw = data
	return &quote, nil
}

func (c *Client) fetchSwapTransaction(ctx context.Context, quote *quoteResponse, funder solana.PublicKey) (string, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:    quote.Raw,
		UserPublicKey:    funder.String(),
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req)
	if err != nil {
		return "", err
	}

	var out swapResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse swap response: %w", err)
	}
	if out.SwapTransaction == "" {
		return "", fmt.Errorf("swap response missing transaction")
	}
	return out.SwapTransaction, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote API returned status code %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
