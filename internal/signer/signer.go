// Package signer is an HTTP client for the wallet-signing service. The
// service holds the funder key; this process never sees it. Envelopes are
// shipped as base64 serialized transactions and come back signed, or are
// signed and broadcast in one call.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// Client talks to the wallet-signing service.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	logger   *observability.Logger
	retryCfg resilience.RetryConfig
}

// ClientConfig holds signer client configuration.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Logger      *observability.Logger
	RetryConfig resilience.RetryConfig
}

type signRequest struct {
	Transaction string `json:"transaction"`
}

type signResponse struct {
	Transaction string `json:"transaction"`
}

type signAndSendResponse struct {
	Signature string `json:"signature"`
}

// NewClient creates a signing service client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signer base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Jitter:      0.2,
		}
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		logger:   cfg.Logger,
		retryCfg: cfg.RetryConfig,
	}, nil
}

// Sign returns the envelope's transaction with the funder signature applied.
// Ephemeral co-signatures and any pre-applied external signatures survive
// the round trip because the service only fills its own signature slot.
// Safe to retry: signing has no side effects.
func (c *Client) Sign(ctx context.Context, env *envelope.Envelope) (*solana.Transaction, error) {
	tx, err := env.Build()
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("serialize envelope: %w", err)
	}

	return resilience.RetryIfWithResult(ctx, c.retryCfg, resilience.IsRetryable, func(ctx context.Context) (*solana.Transaction, error) {
		var out signResponse
		if err := c.post(ctx, "/v1/sign", signRequest{Transaction: encoded}, &out); err != nil {
			return nil, err
		}
		signed, err := solana.TransactionFromBase64(out.Transaction)
		if err != nil {
			return nil, fmt.Errorf("decode signed transaction: %w", err)
		}
		return signed, nil
	})
}

// SignAndSend signs and broadcasts in one service call, returning the
// transaction signature. Never retried here: a network error leaves the
// broadcast outcome unknown and a blind resend could double-execute.
// Sequencing around unknown outcomes belongs to the caller.
func (c *Client) SignAndSend(ctx context.Context, env *envelope.Envelope) (solana.Signature, error) {
	tx, err := env.Build()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build envelope: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serialize envelope: %w", err)
	}

	var out signAndSendResponse
	if err := c.post(ctx, "/v1/sign-and-send", signRequest{Transaction: encoded}, &out); err != nil {
		return solana.Signature{}, err
	}

	sig, err := solana.SignatureFromBase58(out.Signature)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode signature %q: %w", out.Signature, err)
	}

	c.logger.Debug("broadcast via signing service", "signature", sig.String())
	return sig, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer returned status code %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
