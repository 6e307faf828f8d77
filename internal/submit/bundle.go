package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// Signer is the wallet-signing surface the bundle path uses: envelopes are
// signed up front and shipped to the relay already complete.
type Signer interface {
	Sign(ctx context.Context, env *envelope.Envelope) (*solana.Transaction, error)
}

// TipSpeed selects the tip tier attached to a bundle.
type TipSpeed string

const (
	TipSlow  TipSpeed = "slow"
	TipFast  TipSpeed = "fast"
	TipTurbo TipSpeed = "turbo"
)

// Relay tip accounts. The block builder credits whichever one the tip
// transfer pays into.
var tipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// RelayConfig holds bundle relay configuration.
type RelayConfig struct {
	URL string
	// TipLamports maps tip speed to the lamport amount of the tip
	// transfer.
	TipLamports map[string]uint64
	// Timeout bounds bundle status polling.
	Timeout time.Duration
	// PollInterval is the fixed bundle status poll cadence.
	PollInterval time.Duration
}

// Relay submits envelope sets to a block-builder relay as all-or-nothing
// bundles.
type Relay struct {
	http    *http.Client
	signer  Signer
	handles HandleSource
	cfg     RelayConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	cb      *resilience.CircuitBreaker
}

// NewRelay creates a bundle relay client.
func NewRelay(signer Signer, handles HandleSource, cfg RelayConfig, logger *observability.Logger, metrics *observability.Metrics) *Relay {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TipLamports == nil {
		cfg.TipLamports = map[string]uint64{
			string(TipSlow):  10_000,
			string(TipFast):  100_000,
			string(TipTurbo): 1_000_000,
		}
	}
	return &Relay{
		http:    &http.Client{Timeout: 15 * time.Second},
		signer:  signer,
		handles: handles,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "bundle-relay",
			FailureThreshold: 5,
			ResetTimeout:     20 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				if metrics != nil {
					metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		}),
	}
}

// TipEnvelope builds the tip transfer appended as the bundle's final
// envelope. The tip account is picked at random to spread load.
func (r *Relay) TipEnvelope(feePayer solana.PublicKey, speed TipSpeed, handle envelope.ExpiryHandle) (*envelope.Envelope, error) {
	amount, ok := r.cfg.TipLamports[string(speed)]
	if !ok {
		return nil, fmt.Errorf("unknown tip speed %q", speed)
	}
	tipAccount := tipAccounts[rand.Intn(len(tipAccounts))]

	ix := system.NewTransferInstruction(amount, feePayer, tipAccount).Build()

	r.logger.Debug("built tip envelope",
		"speed", string(speed),
		"lamports", money.Lamports(amount).String(),
		"tip_account", tipAccount.String(),
	)

	return &envelope.Envelope{
		Steps:        []envelope.Step{envelope.StepTip},
		Shape:        envelope.ShapeLegacy,
		FeePayer:     feePayer,
		Instructions: []solana.Instruction{ix},
		Expiry:       handle,
	}, nil
}

// Submit signs every envelope, optionally appends a tip, ships the set as
// one bundle and polls it to a terminal status. All-or-nothing: either every
// transaction lands or none do, so the result never reports partial
// success.
func (r *Relay) Submit(ctx context.Context, envs []*envelope.Envelope, feePayer solana.PublicKey, speed TipSpeed, skipTip bool) (*Result, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("no envelopes to submit")
	}

	bundle := envs
	if !skipTip {
		handle, err := r.handles.LatestExpiryHandle(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch tip expiry handle: %w", err)
		}
		tip, err := r.TipEnvelope(feePayer, speed, handle)
		if err != nil {
			return nil, err
		}
		bundle = append(append([]*envelope.Envelope{}, envs...), tip)
	}

	encoded := make([]string, 0, len(bundle))
	sigs := make([]string, 0, len(bundle))
	for i, env := range bundle {
		tx, err := r.signer.Sign(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("sign envelope %d: %w", i, err)
		}
		b64, err := tx.ToBase64()
		if err != nil {
			return nil, fmt.Errorf("serialize envelope %d: %w", i, err)
		}
		encoded = append(encoded, b64)
		sig := ""
		if len(tx.Signatures) > 0 {
			sig = tx.Signatures[0].String()
		}
		sigs = append(sigs, sig)
	}

	start := time.Now()
	bundleID, err := r.sendBundle(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("send bundle: %w", err)
	}

	r.logger.Info("bundle submitted",
		"bundle_id", bundleID,
		"envelopes", len(bundle),
		"skip_tip", skipTip,
	)

	outcome := r.pollBundle(ctx, bundleID)
	if r.metrics != nil {
		r.metrics.RecordEnvelopeSubmitted(ctx, "bundle", string(outcome), time.Since(start))
	}

	result := &Result{Mode: ModeBundle, Outcome: outcome, BundleID: bundleID}
	for i, env := range bundle {
		item := Item{Signature: sigs[i], Steps: env.Steps}
		switch outcome {
		case OutcomeConfirmed:
			item.State = ItemConfirmed
		case OutcomeTimedOut:
			item.State = ItemTimedOut
			item.Reason = timeoutReason
		default:
			item.State = ItemFailed
			item.Reason = "bundle rejected"
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

type relayRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type relayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sendBundleResponse struct {
	Result string      `json:"result"`
	Error  *relayError `json:"error"`
}

type bundleStatus struct {
	BundleID           string `json:"bundle_id"`
	ConfirmationStatus string `json:"confirmation_status"`
	Err                any    `json:"err"`
}

type bundleStatusesResponse struct {
	Result struct {
		Value []bundleStatus `json:"value"`
	} `json:"result"`
	Error *relayError `json:"error"`
}

func (r *Relay) sendBundle(ctx context.Context, encoded []string) (string, error) {
	return resilience.ExecuteWithResult(r.cb, ctx, func(ctx context.Context) (string, error) {
		var out sendBundleResponse
		err := r.rpc(ctx, relayRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "sendBundle",
			Params:  []any{encoded, map[string]string{"encoding": "base64"}},
		}, &out)
		if err != nil {
			return "", err
		}
		if out.Error != nil {
			return "", fmt.Errorf("relay error %d: %s", out.Error.Code, out.Error.Message)
		}
		return out.Result, nil
	})
}

// pollBundle polls bundle status at a fixed cadence until landed, rejected
// or timeout.
func (r *Relay) pollBundle(ctx context.Context, bundleID string) Outcome {
	deadline := time.Now().Add(r.cfg.Timeout)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return OutcomeTimedOut
		case <-ticker.C:
		}

		status, err := r.bundleStatus(ctx, bundleID)
		if r.metrics != nil {
			pollStatus := "pending"
			if err != nil {
				pollStatus = "error"
			} else if status != nil {
				pollStatus = status.ConfirmationStatus
			}
			r.metrics.RecordBundlePoll(ctx, pollStatus)
		}
		if err != nil {
			r.logger.Debug("bundle status poll failed, will retry", "error", err.Error())
			continue
		}
		if status == nil {
			continue
		}

		if status.Err != nil {
			if m, ok := status.Err.(map[string]any); ok {
				if _, isOk := m["Ok"]; isOk {
					// {"Ok": null} means no error.
					status.Err = nil
				}
			}
		}
		if status.Err != nil {
			r.logger.Warn("bundle rejected", "bundle_id", bundleID, "err", fmt.Sprintf("%v", status.Err))
			return OutcomeFailed
		}
		switch status.ConfirmationStatus {
		case "confirmed", "finalized":
			return OutcomeConfirmed
		}
	}
	return OutcomeTimedOut
}

func (r *Relay) bundleStatus(ctx context.Context, bundleID string) (*bundleStatus, error) {
	var out bundleStatusesResponse
	err := r.rpc(ctx, relayRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBundleStatuses",
		Params:  []any{[]string{bundleID}},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("relay error %d: %s", out.Error.Code, out.Error.Message)
	}
	if len(out.Result.Value) == 0 {
		return nil, nil
	}
	return &out.Result.Value[0], nil
}

func (r *Relay) rpc(ctx context.Context, req relayRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status code %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
