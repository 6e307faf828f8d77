package provision

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
)

// FeeConfig holds protocol fee parameters.
type FeeConfig struct {
	// Bps is the protocol fee rate applied to the gross funding amount.
	Bps money.BPS
	// Dust waives fees at or below this amount; a near-zero transfer costs
	// more in rent and compute than it collects.
	Dust money.TokenAmount
	// Collector receives the fee.
	Collector solana.PublicKey
}

// Fee is the outcome of applying the protocol fee to a gross amount.
type Fee struct {
	Gross money.TokenAmount
	Fee   money.TokenAmount
	Net   money.TokenAmount
}

// CalculateFee splits the gross funding amount. Fee is floored so
// Fee + Net == Gross always holds; amounts at or below dust are waived.
func CalculateFee(gross money.TokenAmount, cfg FeeConfig) Fee {
	fee, net := money.SplitFee(gross, cfg.Bps, cfg.Dust)
	return Fee{Gross: gross, Fee: fee, Net: net}
}

// Instruction builds the fee-transfer instruction, or nil when the fee was
// waived. Native deposits move lamports with a system transfer; SPL
// deposits move tokens between the funder's and collector's associated
// token accounts.
func (f Fee) Instruction(funder solana.PublicKey, mint solana.PublicKey, cfg FeeConfig) (solana.Instruction, error) {
	if f.Fee.IsZero() {
		return nil, nil
	}

	if mint.Equals(solana.WrappedSol) {
		return system.NewTransferInstruction(f.Fee.Uint64(), funder, cfg.Collector).Build(), nil
	}

	source, _, err := solana.FindAssociatedTokenAddress(funder, mint)
	if err != nil {
		return nil, err
	}
	dest, _, err := solana.FindAssociatedTokenAddress(cfg.Collector, mint)
	if err != nil {
		return nil, err
	}
	return token.NewTransferInstruction(f.Fee.Uint64(), source, dest, funder, nil).Build(), nil
}

// AppendToPlan attaches the fee transfer to the end of a plan's local
// instructions. The fee executes last so it is only collected when the
// position work in front of it succeeded within the same envelope.
func (f Fee) AppendToPlan(plan *envelope.Plan, funder, mint solana.PublicKey, cfg FeeConfig) error {
	ix, err := f.Instruction(funder, mint, cfg)
	if err != nil || ix == nil {
		return err
	}
	plan.Local = append(plan.Local, envelope.Planned{
		Step:        envelope.StepFeeTransfer,
		Instruction: ix,
	})
	return nil
}
