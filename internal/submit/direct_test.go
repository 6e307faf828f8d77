package submit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger("error", "json")
}

func localEnvelope(steps ...envelope.Step) *envelope.Envelope {
	payer := solana.NewWallet()
	ix := system.NewTransferInstruction(1, payer.PublicKey(), solana.NewWallet().PublicKey()).Build()
	var hash solana.Hash
	hash[0] = 9
	return &envelope.Envelope{
		Steps:        steps,
		Shape:        envelope.ShapeLegacy,
		FeePayer:     payer.PublicKey(),
		Instructions: []solana.Instruction{ix},
		Expiry:       envelope.ExpiryHandle{Blockhash: hash, LastValidBlockHeight: 50},
	}
}

func sigForIndex(i int) solana.Signature {
	var sig solana.Signature
	sig[0] = byte(i + 1)
	return sig
}

// fakeBroadcaster signs and sends envelopes, failing at a chosen index.
type fakeBroadcaster struct {
	calls     int
	failAt    int // 0-based index that errors; -1 disables
	staleOnce bool
}

func (f *fakeBroadcaster) SignAndSend(ctx context.Context, env *envelope.Envelope) (solana.Signature, error) {
	idx := f.calls
	f.calls++
	if f.staleOnce {
		f.staleOnce = false
		return solana.Signature{}, errors.New("BlockhashNotFound")
	}
	if idx == f.failAt {
		return solana.Signature{}, fmt.Errorf("insufficient funds for rent")
	}
	return sigForIndex(idx), nil
}

// fakeStatusReader reports every known signature as confirmed unless listed
// in silent, which never resolves.
type fakeStatusReader struct {
	silent map[solana.Signature]bool
	failed map[solana.Signature]bool
}

func (f *fakeStatusReader) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	out := make([]*rpc.SignatureStatusesResult, len(sigs))
	for i, sig := range sigs {
		if f.silent[sig] {
			continue
		}
		if f.failed[sig] {
			out[i] = &rpc.SignatureStatusesResult{Err: "InstructionError"}
			continue
		}
		out[i] = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	}
	return out, nil
}

type fakeHandleSource struct{ calls int }

func (f *fakeHandleSource) LatestExpiryHandle(ctx context.Context) (envelope.ExpiryHandle, error) {
	f.calls++
	var hash solana.Hash
	hash[0] = byte(100 + f.calls)
	return envelope.ExpiryHandle{Blockhash: hash, LastValidBlockHeight: uint64(200 + f.calls)}, nil
}

func newTestDirect(b *fakeBroadcaster, r *fakeStatusReader, h *fakeHandleSource) *Direct {
	logger := testLogger()
	return NewDirect(b, h, NewConfirmer(r, logger, nil), DirectConfig{
		SettleDelay:        5 * time.Millisecond,
		ConfirmTimeout:     300 * time.Millisecond,
		StaleHandleRetries: 2,
	}, logger, nil)
}

func TestDirect_AllConfirmed(t *testing.T) {
	b := &fakeBroadcaster{failAt: -1}
	d := newTestDirect(b, &fakeStatusReader{}, &fakeHandleSource{})

	envs := []*envelope.Envelope{
		localEnvelope(envelope.StepSwapA),
		localEnvelope(envelope.StepOpenPosition, envelope.StepAddLiquidity),
	}
	result, err := d.Submit(context.Background(), envs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeConfirmed {
		t.Errorf("outcome = %s, want confirmed", result.Outcome)
	}
	if got := len(result.SucceededSignatures()); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
}

func TestDirect_StopsOnFirstFailure(t *testing.T) {
	// Third of four envelopes fails at broadcast.
	b := &fakeBroadcaster{failAt: 2}
	d := newTestDirect(b, &fakeStatusReader{}, &fakeHandleSource{})

	envs := []*envelope.Envelope{
		localEnvelope(envelope.StepSwapA),
		localEnvelope(envelope.StepSwapB),
		localEnvelope(envelope.StepOpenPosition),
		localEnvelope(envelope.StepAddLiquidity),
	}
	result, err := d.Submit(context.Background(), envs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Outcome != OutcomePartiallyFailed {
		t.Errorf("outcome = %s, want partially_failed", result.Outcome)
	}
	// Envelope 4 must never be submitted.
	if b.calls != 3 {
		t.Errorf("broadcaster called %d times, want 3", b.calls)
	}
	succeeded := result.SucceededSignatures()
	if len(succeeded) != 2 {
		t.Fatalf("succeeded = %v, want the first two signatures", succeeded)
	}
	for i, sig := range succeeded {
		if sig != sigForIndex(i).String() {
			t.Errorf("succeeded[%d] = %s, want %s", i, sig, sigForIndex(i))
		}
	}
	// Only attempted envelopes appear in the result.
	if len(result.Items) != 3 {
		t.Errorf("items = %d, want 3", len(result.Items))
	}
	if result.FailureDetail() == "" {
		t.Error("failure detail must name the failed step")
	}
}

func TestDirect_FirstEnvelopeFails(t *testing.T) {
	b := &fakeBroadcaster{failAt: 0}
	d := newTestDirect(b, &fakeStatusReader{}, &fakeHandleSource{})

	result, err := d.Submit(context.Background(), []*envelope.Envelope{
		localEnvelope(envelope.StepOpenPosition),
		localEnvelope(envelope.StepAddLiquidity),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", result.Outcome)
	}
	if len(result.SucceededSignatures()) != 0 {
		t.Error("nothing should have succeeded")
	}
	if b.calls != 1 {
		t.Errorf("broadcaster called %d times, want 1", b.calls)
	}
}

func TestDirect_RefreshesStaleHandle(t *testing.T) {
	b := &fakeBroadcaster{failAt: -1, staleOnce: true}
	h := &fakeHandleSource{}
	d := newTestDirect(b, &fakeStatusReader{}, h)

	env := localEnvelope(envelope.StepOpenPosition)
	originalHash := env.Expiry.Blockhash

	result, err := d.Submit(context.Background(), []*envelope.Envelope{env})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Outcome != OutcomeConfirmed {
		t.Errorf("outcome = %s, want confirmed", result.Outcome)
	}
	if h.calls != 1 {
		t.Errorf("handle source called %d times, want 1", h.calls)
	}
	if env.Expiry.Blockhash == originalHash {
		t.Error("envelope handle was not refreshed")
	}
}

func TestDirect_TimeoutMarksRemaining(t *testing.T) {
	// Two envelopes; the second one's signature never reports a status.
	b := &fakeBroadcaster{failAt: -1}
	r := &fakeStatusReader{silent: map[solana.Signature]bool{sigForIndex(1): true}}
	logger := testLogger()
	d := NewDirect(b, &fakeHandleSource{}, NewConfirmer(r, logger, nil), DirectConfig{
		SettleDelay:        time.Millisecond,
		ConfirmTimeout:     1500 * time.Millisecond,
		StaleHandleRetries: 1,
	}, logger, nil)

	start := time.Now()
	result, err := d.Submit(context.Background(), []*envelope.Envelope{
		localEnvelope(envelope.StepSwapA),
		localEnvelope(envelope.StepAddLiquidity),
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.Outcome != OutcomePartiallyFailed {
		t.Errorf("outcome = %s, want partially_failed", result.Outcome)
	}
	if result.Items[0].State != ItemConfirmed {
		t.Errorf("first item = %s, want confirmed", result.Items[0].State)
	}
	if result.Items[1].State != ItemTimedOut || result.Items[1].Reason != "Timeout reached" {
		t.Errorf("second item = %s (%q), want timeout with reason", result.Items[1].State, result.Items[1].Reason)
	}
	// Returns near the confirm timeout, not indefinitely and not early.
	if elapsed < 1400*time.Millisecond || elapsed > 2500*time.Millisecond {
		t.Errorf("elapsed %v, want ~1.5s", elapsed)
	}
}

func TestConfirmer_EarlyReturn(t *testing.T) {
	r := &fakeStatusReader{}
	c := NewConfirmer(r, testLogger(), nil)

	start := time.Now()
	states := c.Wait(context.Background(), 5*time.Second, sigForIndex(0), sigForIndex(1))
	elapsed := time.Since(start)

	for i, s := range states {
		if s.State != ItemConfirmed {
			t.Errorf("sig %d = %s, want confirmed", i, s.State)
		}
	}
	if elapsed > time.Second {
		t.Errorf("confirmed statuses must return early, took %v", elapsed)
	}
}

func TestConfirmer_FailedTransaction(t *testing.T) {
	r := &fakeStatusReader{failed: map[solana.Signature]bool{sigForIndex(0): true}}
	c := NewConfirmer(r, testLogger(), nil)

	res := c.WaitOne(context.Background(), time.Second, sigForIndex(0))
	if res.State != ItemFailed {
		t.Errorf("state = %s, want failed", res.State)
	}
	if res.Reason == "" {
		t.Error("failed resolution must carry a reason")
	}
}
