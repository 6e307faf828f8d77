package submit

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
)

// Request carries one envelope set through submission.
type Request struct {
	Envelopes []*envelope.Envelope
	Mode      Mode
	FeePayer  solana.PublicKey
	// TipSpeed applies to the bundle path only. Defaults to fast.
	TipSpeed TipSpeed
	// SkipTip submits the bundle without a tip envelope.
	SkipTip bool
}

// Engine routes a submission request to the configured path.
type Engine struct {
	direct *Direct
	relay  *Relay
	logger *observability.Logger
}

// NewEngine creates the submission engine.
func NewEngine(direct *Direct, relay *Relay, logger *observability.Logger) *Engine {
	return &Engine{direct: direct, relay: relay, logger: logger}
}

// Submit broadcasts the envelope set and blocks until a terminal result.
func (e *Engine) Submit(ctx context.Context, req Request) (*Result, error) {
	if len(req.Envelopes) == 0 {
		return nil, fmt.Errorf("no envelopes to submit")
	}
	if req.TipSpeed == "" {
		req.TipSpeed = TipFast
	}

	e.logger.Info("submitting envelope set",
		"mode", string(req.Mode),
		"envelopes", len(req.Envelopes),
	)

	switch req.Mode {
	case ModeDirect:
		return e.direct.Submit(ctx, req.Envelopes)
	case ModeBundle:
		return e.relay.Submit(ctx, req.Envelopes, req.FeePayer, req.TipSpeed, req.SkipTip)
	default:
		return nil, fmt.Errorf("unsupported submission mode %q", req.Mode)
	}
}
