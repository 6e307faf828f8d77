package notification

import (
	"context"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/provision"
)

// NoOpPublisher logs receipts instead of publishing them. Use when SNS is
// not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a log-only publisher.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{logger: logger}
}

// Notify logs the receipt.
func (p *NoOpPublisher) Notify(ctx context.Context, receipt *provision.Receipt) error {
	if p.logger != nil {
		p.logger.Info("intent receipt (SNS disabled)",
			"intent_id", receipt.IntentID,
			"pool", receipt.Pool.String(),
			"model", string(receipt.Model),
			"outcome", string(receipt.Result.Outcome),
			"signatures", len(receipt.Result.SucceededSignatures()),
		)
	}
	return nil
}

var _ provision.Notifier = (*NoOpPublisher)(nil)
