package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// Broadcaster is the wallet-signing service surface the direct path uses.
type Broadcaster interface {
	SignAndSend(ctx context.Context, env *envelope.Envelope) (solana.Signature, error)
}

// HandleSource provides fresh expiry handles for stale-handle recovery.
type HandleSource interface {
	LatestExpiryHandle(ctx context.Context) (envelope.ExpiryHandle, error)
}

// DirectConfig holds direct-path tuning.
type DirectConfig struct {
	// SettleDelay is the pause after each confirmed broadcast before the
	// next envelope is handed to the signer. Later envelopes read state
	// the earlier ones created; the delay lets that state commit.
	SettleDelay time.Duration
	// ConfirmTimeout bounds status polling per envelope.
	ConfirmTimeout time.Duration
	// StaleHandleRetries caps refresh-and-resend attempts per envelope.
	StaleHandleRetries int
}

// Direct submits envelopes strictly sequentially through the wallet-signing
// service. Each envelope is broadcast, confirmed, and settled before the
// next one goes out. On the first failure the remaining envelopes are never
// submitted and the result reports what landed.
type Direct struct {
	broadcaster Broadcaster
	handles     HandleSource
	confirmer   *Confirmer
	cfg         DirectConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewDirect creates a direct-path submitter.
func NewDirect(broadcaster Broadcaster, handles HandleSource, confirmer *Confirmer, cfg DirectConfig, logger *observability.Logger, metrics *observability.Metrics) *Direct {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 3 * time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 45 * time.Second
	}
	if cfg.StaleHandleRetries == 0 {
		cfg.StaleHandleRetries = 2
	}
	return &Direct{
		broadcaster: broadcaster,
		handles:     handles,
		confirmer:   confirmer,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
	}
}

// Submit runs the sequential broadcast. The returned result is terminal;
// the error is non-nil only for invariant violations (empty set), never for
// on-chain failures, which are reported through the result instead.
func (d *Direct) Submit(ctx context.Context, envs []*envelope.Envelope) (*Result, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("no envelopes to submit")
	}

	result := &Result{Mode: ModeDirect}

	for i, env := range envs {
		start := time.Now()
		sig, err := d.broadcastWithHandleRefresh(ctx, env)
		if err != nil {
			// Never submitted: no transport identifier exists for this or
			// any later envelope.
			result.Items = append(result.Items, Item{
				Steps:  env.Steps,
				State:  ItemFailed,
				Reason: err.Error(),
			})
			d.finishPartial(ctx, result, i)
			return result, nil
		}

		res := d.confirmer.WaitOne(ctx, d.cfg.ConfirmTimeout, sig)
		item := Item{
			Signature: sig.String(),
			Steps:     env.Steps,
			State:     res.State,
			Reason:    res.Reason,
		}
		result.Items = append(result.Items, item)

		if d.metrics != nil {
			d.metrics.RecordEnvelopeSubmitted(ctx, "direct", string(res.State), time.Since(start))
		}

		if res.State != ItemConfirmed {
			d.finishPartial(ctx, result, i)
			return result, nil
		}

		d.logger.Info("envelope confirmed",
			"signature", sig.String(),
			"position", fmt.Sprintf("%d/%d", i+1, len(envs)),
		)

		// Settle before the next broadcast. Skipped after the last one.
		if i < len(envs)-1 {
			select {
			case <-ctx.Done():
				result.Outcome = OutcomePartiallyFailed
				return result, nil
			case <-time.After(d.cfg.SettleDelay):
			}
		}
	}

	result.Outcome = OutcomeConfirmed
	return result, nil
}

// broadcastWithHandleRefresh hands the envelope to the signing service,
// refreshing the expiry handle and resending when the ledger reports the
// blockhash too old. Only locally composed envelopes can be refreshed;
// external ones surface the stale error to the caller.
func (d *Direct) broadcastWithHandleRefresh(ctx context.Context, env *envelope.Envelope) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.StaleHandleRetries; attempt++ {
		if attempt > 0 {
			handle, err := d.handles.LatestExpiryHandle(ctx)
			if err != nil {
				return solana.Signature{}, fmt.Errorf("refresh expiry handle: %w", err)
			}
			if err := env.Refresh(handle); err != nil {
				return solana.Signature{}, fmt.Errorf("stale handle on immutable envelope: %w", lastErr)
			}
			d.logger.Warn("refreshed stale expiry handle", "attempt", attempt)
		}

		sig, err := d.broadcaster.SignAndSend(ctx, env)
		if err == nil {
			return sig, nil
		}
		lastErr = err

		if !resilience.IsStaleBlockhash(err) {
			return solana.Signature{}, err
		}
	}
	return solana.Signature{}, fmt.Errorf("expiry handle stale after %d refreshes: %w", d.cfg.StaleHandleRetries, lastErr)
}

func (d *Direct) finishPartial(ctx context.Context, result *Result, failedIndex int) {
	switch {
	case failedIndex > 0:
		result.Outcome = OutcomePartiallyFailed
	case result.Items[0].State == ItemTimedOut:
		result.Outcome = OutcomeTimedOut
	default:
		result.Outcome = OutcomeFailed
	}
	d.logger.LogWarn(ctx, "direct submission stopped mid-sequence",
		"failed_index", failedIndex,
		"succeeded", len(result.SucceededSignatures()),
		"detail", result.FailureDetail(),
	)
}
