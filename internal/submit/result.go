// Package submit broadcasts assembled envelope sets and tracks them to a
// terminal state. Two interchangeable paths exist: the direct path hands
// each envelope to the wallet-signing service one at a time with a settling
// delay in between, and the bundle path ships the whole set to a
// block-builder relay as an all-or-nothing unit.
package submit

import (
	"fmt"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
)

// Mode selects the submission path.
type Mode string

const (
	ModeBundle Mode = "bundle"
	ModeDirect Mode = "direct"
)

// ParseMode validates a submission mode tag.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBundle, ModeDirect:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unsupported submission mode %q", s)
	}
}

// ItemState is the per-transport-identifier status.
type ItemState string

const (
	ItemPending   ItemState = "pending"
	ItemConfirmed ItemState = "confirmed"
	ItemFailed    ItemState = "failed"
	ItemTimedOut  ItemState = "timeout"
)

// Item tracks one broadcast envelope.
type Item struct {
	// Signature is the transport identifier. Empty if the envelope was
	// never broadcast.
	Signature string
	// Steps are the logical steps the envelope carried, so a partial
	// failure names what did and did not land.
	Steps  []envelope.Step
	State  ItemState
	Reason string
}

// Outcome is the terminal state of a whole submission.
type Outcome string

const (
	// OutcomeConfirmed means every envelope landed.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomePartiallyFailed means the direct path stopped mid-sequence
	// with at least one envelope already confirmed. Not an error: the
	// caller reconciles using the succeeded identifiers.
	OutcomePartiallyFailed Outcome = "partially_failed"
	// OutcomeFailed means nothing landed.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimedOut means status polling gave up before resolution.
	OutcomeTimedOut Outcome = "timed_out"
)

// Result is the terminal record of one submission.
type Result struct {
	Mode    Mode
	Outcome Outcome
	// BundleID is set on the bundle path only.
	BundleID string
	Items    []Item
}

// SucceededSignatures returns the transport identifiers of confirmed items,
// in submission order.
func (r *Result) SucceededSignatures() []string {
	var out []string
	for _, item := range r.Items {
		if item.State == ItemConfirmed && item.Signature != "" {
			out = append(out, item.Signature)
		}
	}
	return out
}

// Succeeded reports whether every envelope landed.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeConfirmed
}

// FailureDetail summarizes what stopped a non-confirmed submission, naming
// the step and identifier so manual recovery is possible.
func (r *Result) FailureDetail() string {
	for _, item := range r.Items {
		if item.State == ItemFailed || item.State == ItemTimedOut {
			return fmt.Sprintf("envelope %v %s (signature %q): %s",
				item.Steps, item.State, item.Signature, item.Reason)
		}
	}
	return ""
}
