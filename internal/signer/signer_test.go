package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

func testEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	payer := solana.NewWallet()
	dest := solana.NewWallet()

	ix := system.NewTransferInstruction(1_000, payer.PublicKey(), dest.PublicKey()).Build()

	var hash solana.Hash
	hash[0] = 1

	return &envelope.Envelope{
		Steps:        []envelope.Step{envelope.StepFeeTransfer},
		Shape:        envelope.ShapeLegacy,
		FeePayer:     payer.PublicKey(),
		Instructions: []solana.Instruction{ix},
		Expiry:       envelope.ExpiryHandle{Blockhash: hash, LastValidBlockHeight: 100},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL: url,
		Logger:  observability.NewLogger("error", "json"),
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSign_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sign" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req signRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// Echo back unchanged; a real service fills the funder slot.
		json.NewEncoder(w).Encode(signResponse{Transaction: req.Transaction})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	env := testEnvelope(t)

	signed, err := client.Sign(context.Background(), env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	accounts := signed.Message.AccountKeys
	if len(accounts) == 0 || !accounts[0].Equals(env.FeePayer) {
		t.Errorf("fee payer not preserved through round trip")
	}
}

func TestSign_RetriesTransientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req signRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(signResponse{Transaction: req.Transaction})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.Sign(context.Background(), testEnvelope(t)); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSignAndSend_ReturnsSignature(t *testing.T) {
	wantSig := solana.SignatureFromBytes(make([]byte, 64))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sign-and-send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(signAndSendResponse{Signature: wantSig.String()})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sig, err := client.SignAndSend(context.Background(), testEnvelope(t))
	if err != nil {
		t.Fatalf("SignAndSend: %v", err)
	}
	if sig != wantSig {
		t.Errorf("got signature %s, want %s", sig, wantSig)
	}
}

func TestSignAndSend_NeverRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.SignAndSend(context.Background(), testEnvelope(t)); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("broadcast must not be retried, got %d calls", calls)
	}
}
