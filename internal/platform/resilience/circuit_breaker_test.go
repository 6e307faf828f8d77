package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBreaker_OpensAtThreshold verifies the breaker opens after exactly
// FailureThreshold consecutive failures and then fast-fails without invoking
// the wrapped operation.
func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-threshold",
		FailureThreshold: 3,
		ResetTimeout:     time.Second,
	})

	failErr := errors.New("upstream down")
	for i := 0; i < 3; i++ {
		if cb.State() != StateClosed {
			t.Fatalf("expected Closed before failure %d, got %s", i+1, cb.State())
		}
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return failErr
		})
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected Open after 3 failures, got %s", cb.State())
	}

	invoked := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("wrapped operation must not run while breaker is open")
	}
}

// TestBreaker_SuccessResetsFailureCount verifies interleaved successes keep
// the breaker closed (failures must be consecutive to open it).
func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-reset-count",
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
	})

	failErr := errors.New("flaky")
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return failErr })
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	}

	if cb.State() != StateClosed {
		t.Errorf("expected Closed after interleaved successes, got %s", cb.State())
	}
}

// TestBreaker_HalfOpenSingleTrial verifies that after the reset timeout
// elapses exactly one trial call is allowed through, and that concurrent
// callers during the trial are rejected.
func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-half-open",
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if cb.State() != StateOpen {
		t.Fatalf("expected Open, got %s", cb.State())
	}

	time.Sleep(80 * time.Millisecond)

	trialStarted := make(chan struct{})
	trialRelease := make(chan struct{})
	trialDone := make(chan error, 1)

	go func() {
		trialDone <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(trialStarted)
			<-trialRelease
			return nil
		})
	}()

	<-trialStarted

	// Second caller while the trial is in flight must fast-fail.
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen during trial, got %v", err)
	}

	close(trialRelease)
	if err := <-trialDone; err != nil {
		t.Errorf("trial call failed: %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("expected Closed after trial success, got %s", cb.State())
	}
}

// TestBreaker_TrialFailureReopens verifies a failed trial call reopens the
// breaker and restarts the reset timer.
func TestBreaker_TrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-trial-failure",
		FailureThreshold: 1,
		ResetTimeout:     50 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	time.Sleep(80 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("still down")
	})

	if cb.State() != StateOpen {
		t.Fatalf("expected Open after trial failure, got %s", cb.State())
	}

	// The timer restarted, so an immediate call is still rejected.
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen right after reopen, got %v", err)
	}
}

// TestBreaker_ContextErrorsDoNotCount verifies caller-side cancellation does
// not advance the failure count.
func TestBreaker_ContextErrorsDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-ctx",
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return context.Canceled
	})

	if cb.State() != StateClosed {
		t.Errorf("expected Closed after context cancellation, got %s", cb.State())
	}
}

// TestBreaker_StateChangeCallback verifies transitions are observable.
func TestBreaker_StateChangeCallback(t *testing.T) {
	type transition struct{ from, to State }
	var transitions []transition

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-callback",
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			if name != "test-callback" {
				t.Errorf("callback got breaker name %q, want %q", name, "test-callback")
			}
			transitions = append(transitions, transition{from, to})
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	time.Sleep(50 * time.Millisecond)
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(transitions), transitions)
	}
	for i, tr := range want {
		if transitions[i] != tr {
			t.Errorf("transition %d: expected %s→%s, got %s→%s",
				i, tr.from, tr.to, transitions[i].from, transitions[i].to)
		}
	}
}

// TestExecuteWithResult verifies the generic path records results the same
// way as Execute.
func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-generic",
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
	})

	v, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, _ = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
			return 0, boom
		})
	}
	_, err = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}
