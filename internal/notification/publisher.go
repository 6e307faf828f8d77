// Package notification publishes terminal provisioning results to
// downstream consumers over SNS, with a log-only fallback for deployments
// without a message bus.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/aws"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/provision"
)

// receiptMessage is the wire payload sent per terminal intent.
type receiptMessage struct {
	IntentID      string   `json:"intentId"`
	Pool          string   `json:"pool"`
	Model         string   `json:"model"`
	Mode          string   `json:"mode"`
	Outcome       string   `json:"outcome"`
	BundleID      string   `json:"bundleId,omitempty"`
	Signatures    []string `json:"signatures,omitempty"`
	FailureDetail string   `json:"failureDetail,omitempty"`
	RangeLower    int32    `json:"rangeLower"`
	RangeUpper    int32    `json:"rangeUpper"`
	GrossAmount   uint64   `json:"grossAmount"`
	FeeAmount     uint64   `json:"feeAmount"`
}

func newReceiptMessage(receipt *provision.Receipt) receiptMessage {
	return receiptMessage{
		IntentID:      receipt.IntentID,
		Pool:          receipt.Pool.String(),
		Model:         string(receipt.Model),
		Mode:          string(receipt.Result.Mode),
		Outcome:       string(receipt.Result.Outcome),
		BundleID:      receipt.Result.BundleID,
		Signatures:    receipt.Result.SucceededSignatures(),
		FailureDetail: receipt.Result.FailureDetail(),
		RangeLower:    receipt.Range.Lower,
		RangeUpper:    receipt.Range.Upper,
		GrossAmount:   receipt.Fee.Gross.Uint64(),
		FeeAmount:     receipt.Fee.Fee.Uint64(),
	}
}

// Publisher publishes provisioning receipts to SNS.
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Tracer    observability.Tracer
}

// NewPublisher creates a receipt publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}, nil
}

// Notify publishes one receipt. Message attributes carry the outcome and
// pool model so consumers can subscribe with SNS filter policies.
func (p *Publisher) Notify(ctx context.Context, receipt *provision.Receipt) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.Notify",
		observability.WithAttributes(
			attribute.String("intent_id", receipt.IntentID),
			attribute.String("outcome", string(receipt.Result.Outcome)),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	payload, err := json.Marshal(newReceiptMessage(receipt))
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("marshal receipt: %w", err)
	}

	attributes := map[string]string{
		"outcome": string(receipt.Result.Outcome),
		"model":   string(receipt.Model),
		"mode":    string(receipt.Result.Mode),
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, string(payload), attributes); err != nil {
		span.NoticeError(err)
		return fmt.Errorf("publish receipt: %w", err)
	}

	if p.logger != nil {
		p.logger.Info("published receipt",
			"intent_id", receipt.IntentID,
			"outcome", string(receipt.Result.Outcome),
			"topic_arn", p.topicARN,
		)
	}
	return nil
}

// CircuitBreakerState returns the SNS circuit breaker state.
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

var _ provision.Notifier = (*Publisher)(nil)
