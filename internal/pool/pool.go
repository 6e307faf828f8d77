// Package pool models the two concentrated liquidity pool families the
// pipeline can provision into: discretized bin pools (DLMM) and continuous
// tick pools (whirlpool CLMM). The two are incompatible on-chain, so each
// model carries its own composer; everything downstream of composition only
// sees the shared envelope plan abstraction.
package pool

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/money"
)

// Model tags the pool family.
type Model string

const (
	ModelBin  Model = "bin"
	ModelTick Model = "tick"
)

// ParseModel validates a model tag.
func ParseModel(s string) (Model, error) {
	switch Model(s) {
	case ModelBin, ModelTick:
		return Model(s), nil
	default:
		return "", fmt.Errorf("unsupported pool model %q", s)
	}
}

// Strategy tags the range-width preset.
type Strategy string

const (
	StrategyConcentrated Strategy = "concentrated"
	StrategyWide         Strategy = "wide"
)

// ParseStrategy validates a strategy tag.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyConcentrated, StrategyWide:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unsupported strategy %q", s)
	}
}

// Snapshot is a point-in-time read of a pool's pricing state. It is fetched
// once at pipeline start and never mutated.
type Snapshot struct {
	Address solana.PublicKey
	Model   Model

	MintA     solana.PublicKey
	MintB     solana.PublicKey
	VaultA    solana.PublicKey
	VaultB    solana.PublicKey
	DecimalsA uint8
	DecimalsB uint8

	// ActiveIndex is the current bin id (bin model) or tick index (tick
	// model).
	ActiveIndex int32

	// Granularity is the index step liquidity can be placed on: 1 for bin
	// pools (every id is addressable), the tick spacing for tick pools.
	Granularity int32

	// BinStep is the bin pool price increment in basis points. Zero for
	// tick pools.
	BinStep uint16
}

// ActivePrice returns the price of asset A in units of asset B at the active
// index, unadjusted for decimals. Used for logging and sizing heuristics
// only, never for on-chain amounts.
func (s *Snapshot) ActivePrice() float64 {
	switch s.Model {
	case ModelBin:
		return math.Pow(1+float64(s.BinStep)/money.BPSScale, float64(s.ActiveIndex))
	case ModelTick:
		return math.Pow(1.0001, float64(s.ActiveIndex))
	default:
		return 0
	}
}

// Range is a half-open liquidity placement range in the pool's native index
// space. Lower < Upper always; both are multiples of the pool granularity.
type Range struct {
	Lower int32
	Upper int32
}

// Width returns the index distance covered by the range.
func (r Range) Width() int32 {
	return r.Upper - r.Lower
}

// DepositAmounts is the per-asset deposit the composer should place.
type DepositAmounts struct {
	AmountA money.TokenAmount
	AmountB money.TokenAmount
	// MaxSlippageBps bounds how far the active index may drift between
	// composition and execution.
	MaxSlippageBps money.BPS
}

// AccountReader is the subset of ledger access the composers need.
type AccountReader interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error)
}

// missingAccounts reports, per key, whether the account does not exist yet.
// An initialize instruction for an account that already exists fails the
// whole transaction on-chain, so composers consult this before emitting one.
func missingAccounts(ctx context.Context, reader AccountReader, keys []solana.PublicKey) ([]bool, error) {
	data, err := reader.MultipleAccountData(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("check accounts: %w", err)
	}
	missing := make([]bool, len(keys))
	for i, d := range data {
		missing[i] = len(d) == 0
	}
	return missing, nil
}

// Composer turns a resolved range and deposit amounts into an ordered
// instruction plan for one pool model.
type Composer interface {
	// ResolveRange derives the placement range for a strategy on the
	// snapshot. Pure: same snapshot and strategy always yield the same
	// range.
	ResolveRange(snap *Snapshot, strategy Strategy) (Range, error)

	// Compose builds the instruction plan that opens a position over the
	// range and deposits the amounts. Funder pays fees and rent and owns
	// the resulting position. The reader is consulted for the range's
	// array accounts so only missing ones get an initialize instruction.
	Compose(ctx context.Context, reader AccountReader, snap *Snapshot, rng Range, funder solana.PublicKey, deposit DepositAmounts) (*envelope.Plan, error)
}

// FetchSnapshot reads and decodes the pool account for the given model.
func FetchSnapshot(ctx context.Context, reader AccountReader, model Model, address solana.PublicKey) (*Snapshot, error) {
	data, err := reader.AccountData(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch pool %s: %w", address, err)
	}

	switch model {
	case ModelBin:
		return decodeBinSnapshot(address, data)
	case ModelTick:
		return decodeTickSnapshot(address, data)
	default:
		return nil, fmt.Errorf("unsupported pool model %q", model)
	}
}

// ComposerFor returns the composer for a model.
func ComposerFor(model Model) (Composer, error) {
	switch model {
	case ModelBin:
		return &BinComposer{}, nil
	case ModelTick:
		return &TickComposer{}, nil
	default:
		return nil, fmt.Errorf("unsupported pool model %q", model)
	}
}
