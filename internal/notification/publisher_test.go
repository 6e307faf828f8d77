package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/provision"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/submit"
)

func sampleReceipt() *provision.Receipt {
	return &provision.Receipt{
		IntentID: "intent-123",
		Pool:     solana.NewWallet().PublicKey(),
		Model:    pool.ModelBin,
		Range:    pool.Range{Lower: 90, Upper: 111},
		Fee:      provision.Fee{Gross: 1_000_000, Fee: 10_000, Net: 990_000},
		Result: &submit.Result{
			Mode:    submit.ModeDirect,
			Outcome: submit.OutcomePartiallyFailed,
			Items: []submit.Item{
				{Signature: "sig-a", State: submit.ItemConfirmed},
				{Signature: "sig-b", State: submit.ItemFailed, Reason: "custom program error"},
			},
		},
	}
}

func TestReceiptMessageMapping(t *testing.T) {
	receipt := sampleReceipt()
	msg := newReceiptMessage(receipt)

	if msg.IntentID != "intent-123" {
		t.Errorf("intent id = %q", msg.IntentID)
	}
	if msg.Outcome != "partially_failed" || msg.Mode != "direct" || msg.Model != "bin" {
		t.Errorf("tags = %s/%s/%s", msg.Outcome, msg.Mode, msg.Model)
	}
	if len(msg.Signatures) != 1 || msg.Signatures[0] != "sig-a" {
		t.Errorf("signatures = %v, want [sig-a]", msg.Signatures)
	}
	if msg.FailureDetail == "" {
		t.Error("partially failed receipt should carry failure detail")
	}
	if msg.GrossAmount != 1_000_000 || msg.FeeAmount != 10_000 {
		t.Errorf("amounts = %d/%d", msg.GrossAmount, msg.FeeAmount)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["bundleId"]; ok {
		t.Error("empty bundle id should be omitted")
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatal("expected error without SNS client")
	}
}

func TestNoOpPublisher(t *testing.T) {
	p := NewNoOpPublisher(observability.NewLogger("error", "text"))
	if err := p.Notify(context.Background(), sampleReceipt()); err != nil {
		t.Fatalf("notify: %v", err)
	}
}
