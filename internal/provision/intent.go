// Package provision runs the liquidity provisioning pipeline: intent
// validation, pool snapshot, swap quoting, range resolution, instruction
// composition, envelope assembly and submission, with fee collection and
// cache invalidation on the way out.
package provision

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/pool"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/submit"
)

// Intent is one caller request to open or resize a position. Immutable once
// handed to the pipeline; never persisted beyond the request lifetime.
type Intent struct {
	ID uuid.UUID

	// Funder pays for everything and owns the resulting position.
	Funder solana.PublicKey
	// PoolAddress identifies the target pool account.
	PoolAddress solana.PublicKey
	// Model tags which pool family PoolAddress belongs to.
	Model pool.Model

	// FundingMint is the asset the funder deposits. Swap legs convert it
	// into the pool's assets as needed.
	FundingMint solana.PublicKey
	// FundingAmount is the gross deposit in the funding mint's base unit.
	FundingAmount money.TokenAmount

	Strategy    pool.Strategy
	SlippageBps money.BPS

	Mode submit.Mode
	// TipSpeed applies to bundle mode only; empty selects the default tier.
	TipSpeed submit.TipSpeed
	// SkipTip submits a bundle without the tip envelope.
	SkipTip bool
}

// NewIntent builds a validated intent with a fresh id.
func NewIntent(funder, poolAddress solana.PublicKey, model pool.Model, fundingMint solana.PublicKey, amount money.TokenAmount, strategy pool.Strategy, slippageBps money.BPS, mode submit.Mode) (*Intent, error) {
	intent := &Intent{
		ID:            uuid.New(),
		Funder:        funder,
		PoolAddress:   poolAddress,
		Model:         model,
		FundingMint:   fundingMint,
		FundingAmount: amount,
		Strategy:      strategy,
		SlippageBps:   slippageBps,
		Mode:          mode,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

// Validate rejects malformed intents before any upstream call is made.
// Validation failures are permanent and must never be retried.
func (in *Intent) Validate() error {
	if in.Funder.IsZero() {
		return fmt.Errorf("intent funder is required")
	}
	if in.PoolAddress.IsZero() {
		return fmt.Errorf("intent pool address is required")
	}
	if _, err := pool.ParseModel(string(in.Model)); err != nil {
		return err
	}
	if in.FundingMint.IsZero() {
		return fmt.Errorf("intent funding mint is required")
	}
	if in.FundingAmount.IsZero() {
		return fmt.Errorf("intent funding amount must be positive")
	}
	if _, err := pool.ParseStrategy(string(in.Strategy)); err != nil {
		return err
	}
	if in.SlippageBps == 0 || in.SlippageBps >= money.BPSScale {
		return fmt.Errorf("intent slippage %d bps out of range (0, 10000)", in.SlippageBps)
	}
	if _, err := submit.ParseMode(string(in.Mode)); err != nil {
		return err
	}
	return nil
}
