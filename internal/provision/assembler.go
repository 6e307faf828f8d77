package provision

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
)

// AssemblerConfig holds compute-budget parameters injected into locally
// composed envelopes.
type AssemblerConfig struct {
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
}

// Assembler packs an instruction plan into the minimum number of envelopes
// that fit under the ledger's transaction size limit.
//
// External envelopes (swap legs) always stand alone: they arrive
// pre-serialized, possibly pre-signed, and are passed through verbatim.
// Local instructions are packed greedily in composition order; every local
// envelope gets the fresh expiry handle and compute-budget instructions at
// the front. Output order equals composition order: external legs first,
// then the local envelopes.
type Assembler struct {
	cfg AssemblerConfig
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = 800_000
	}
	return &Assembler{cfg: cfg}
}

// Assemble packs the plan. The handle must be fetched immediately before
// this call; assembly rejects zero handles instead of building envelopes
// that can never land.
func (a *Assembler) Assemble(plan *envelope.Plan, feePayer solana.PublicKey, handle envelope.ExpiryHandle) ([]*envelope.Envelope, error) {
	if handle.IsZero() {
		return nil, envelope.ErrExpiredHandle
	}
	if len(plan.Local) == 0 && len(plan.External) == 0 {
		return nil, fmt.Errorf("empty instruction plan")
	}

	out := make([]*envelope.Envelope, 0, len(plan.External)+1)
	out = append(out, plan.External...)

	budget, err := a.budgetInstructions()
	if err != nil {
		return nil, err
	}

	var (
		current      []solana.Instruction
		currentSteps []envelope.Step
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		env := &envelope.Envelope{
			Steps:        currentSteps,
			Shape:        envelope.ShapeLegacy,
			FeePayer:     feePayer,
			Instructions: append(append([]solana.Instruction{}, budget...), current...),
			Expiry:       handle,
		}
		out = append(out, env)
		current = nil
		currentSteps = nil
	}

	signerCount := len(plan.EphemeralSigners)
	for _, planned := range plan.Local {
		candidate := append(append([]solana.Instruction{}, budget...), current...)
		candidate = append(candidate, planned.Instruction)
		if len(current) > 0 && envelope.EstimateSize(feePayer, signerCount, candidate) > envelope.MaxSerializedSize {
			flush()
		}
		current = append(current, planned.Instruction)
		currentSteps = append(currentSteps, planned.Step)
	}
	flush()

	// Ephemeral signers attach to the envelope that opens the position.
	if signerCount > 0 {
		attached := false
		for _, env := range out {
			if env.External {
				continue
			}
			for _, s := range env.Steps {
				if s == envelope.StepOpenPosition {
					env.EphemeralSigners = plan.EphemeralSigners
					attached = true
					break
				}
			}
			if attached {
				break
			}
		}
		if !attached {
			return nil, fmt.Errorf("plan has ephemeral signers but no open-position step")
		}
	}

	return out, nil
}

// budgetInstructions builds the compute-budget prelude for local envelopes.
func (a *Assembler) budgetInstructions() ([]solana.Instruction, error) {
	limit, err := computebudget.NewSetComputeUnitLimitInstruction(a.cfg.ComputeUnitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit: %w", err)
	}
	out := []solana.Instruction{limit}

	if a.cfg.ComputeUnitPriceMicroLamports > 0 {
		price, err := computebudget.NewSetComputeUnitPriceInstruction(a.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price: %w", err)
		}
		out = append(out, price)
	}
	return out, nil
}

// RefreshLocal replaces the expiry handle on every locally composed
// envelope, used for stale-handle recovery before any broadcast happened.
func RefreshLocal(envs []*envelope.Envelope, handle envelope.ExpiryHandle) {
	for _, env := range envs {
		if !env.External {
			env.Expiry = handle
		}
	}
}
