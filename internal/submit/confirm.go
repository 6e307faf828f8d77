package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
)

// StatusReader is the ledger read surface confirmation polling needs.
type StatusReader interface {
	SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error)
}

// Adaptive polling bounds. Polling starts tight to catch fast confirmations
// and backs off linearly so slow ones don't hammer the endpoint.
const (
	pollStart     = 40 * time.Millisecond
	pollIncrement = 20 * time.Millisecond
	pollCap       = 200 * time.Millisecond
)

// timeoutReason is the reason attached to identifiers that never resolved.
const timeoutReason = "Timeout reached"

// Confirmer polls signature statuses until terminal or timed out.
type Confirmer struct {
	reader  StatusReader
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewConfirmer creates a Confirmer.
func NewConfirmer(reader StatusReader, logger *observability.Logger, metrics *observability.Metrics) *Confirmer {
	return &Confirmer{reader: reader, logger: logger, metrics: metrics}
}

// Resolution records how a single signature resolved.
type Resolution struct {
	State  ItemState
	Reason string
}

// Wait polls until every signature is terminal or timeout elapses. The
// return slice matches the input order. Signatures still unresolved at the
// deadline come back failed with a timeout reason; the function itself does
// not error for that case. Returns within timeout plus one polling interval.
func (c *Confirmer) Wait(ctx context.Context, timeout time.Duration, sigs ...solana.Signature) []Resolution {
	start := time.Now()
	deadline := start.Add(timeout)
	interval := pollStart

	resolved := make([]Resolution, len(sigs))
	pending := len(sigs)

	for pending > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			c.markUnresolved(resolved, ctx.Err().Error())
			return resolved
		case <-time.After(interval):
		}

		if interval < pollCap {
			interval += pollIncrement
		}

		statuses, err := c.reader.SignatureStatuses(ctx, sigs...)
		if err != nil {
			c.logger.Debug("status poll failed, will retry", "error", err.Error())
			continue
		}

		pending = 0
		for i, status := range statuses {
			if resolved[i].State != "" {
				continue
			}
			switch {
			case status == nil:
				pending++
			case status.Err != nil:
				resolved[i] = Resolution{State: ItemFailed, Reason: formatLedgerError(status.Err)}
			case status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
				resolved[i] = Resolution{State: ItemConfirmed}
				if c.metrics != nil {
					c.metrics.RecordConfirmationLatency(ctx, time.Since(start))
				}
			default:
				pending++
			}
		}
	}

	c.markUnresolved(resolved, timeoutReason)
	return resolved
}

// WaitOne confirms a single signature.
func (c *Confirmer) WaitOne(ctx context.Context, timeout time.Duration, sig solana.Signature) Resolution {
	return c.Wait(ctx, timeout, sig)[0]
}

func (c *Confirmer) markUnresolved(resolved []Resolution, reason string) {
	for i := range resolved {
		if resolved[i].State == "" {
			resolved[i] = Resolution{State: ItemTimedOut, Reason: reason}
		}
	}
}

func formatLedgerError(err interface{}) string {
	return fmt.Sprintf("transaction failed: %v", err)
}
