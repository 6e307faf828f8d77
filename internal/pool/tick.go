package pool

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
)

// Tick pool (whirlpool CLMM) program constants.
var TickProgramID = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

const (
	// ticksPerArray is the number of initializable ticks one tick array
	// account covers (spacing-adjusted).
	ticksPerArray = 88

	minTickIndex = -443636
	maxTickIndex = 443636
)

var (
	discOpenPosition        = anchorDiscriminator("open_position")
	discInitializeTickArray = anchorDiscriminator("initialize_tick_array")
	discIncreaseLiquidity   = anchorDiscriminator("increase_liquidity")
)

// whirlpoolPrefix decodes the leading fields of a whirlpool account, through
// the token B state. Reward info at the tail is not needed here.
type whirlpoolPrefix struct {
	Discriminator    [8]uint8
	WhirlpoolsConfig solana.PublicKey
	WhirlpoolBump    [1]uint8
	TickSpacing      uint16
	FeeTierIndexSeed [2]uint8
	FeeRate          uint16
	ProtocolFeeRate  uint16
	Liquidity        bin.Uint128
	SqrtPrice        bin.Uint128
	TickCurrentIndex int32
	ProtocolFeeOwedA uint64
	ProtocolFeeOwedB uint64
	TokenMintA       solana.PublicKey
	TokenVaultA      solana.PublicKey
	FeeGrowthGlobalA bin.Uint128
	TokenMintB       solana.PublicKey
	TokenVaultB      solana.PublicKey
	FeeGrowthGlobalB bin.Uint128
}

func decodeTickSnapshot(address solana.PublicKey, data []byte) (*Snapshot, error) {
	var wp whirlpoolPrefix
	if err := bin.NewBorshDecoder(data).Decode(&wp); err != nil {
		return nil, fmt.Errorf("decode whirlpool %s: %w", address, err)
	}
	if wp.TickSpacing == 0 {
		return nil, fmt.Errorf("whirlpool %s has zero tick spacing", address)
	}

	return &Snapshot{
		Address:     address,
		Model:       ModelTick,
		MintA:       wp.TokenMintA,
		MintB:       wp.TokenMintB,
		VaultA:      wp.TokenVaultA,
		VaultB:      wp.TokenVaultB,
		ActiveIndex: wp.TickCurrentIndex,
		Granularity: int32(wp.TickSpacing),
	}, nil
}

// TickComposer builds instruction plans for tick model pools.
type TickComposer struct{}

// ResolveRange implements Composer.
func (c *TickComposer) ResolveRange(snap *Snapshot, strategy Strategy) (Range, error) {
	rng, err := resolveTickRange(snap, strategy)
	if err != nil {
		return Range{}, err
	}
	if rng.Lower < minTickIndex || rng.Upper > maxTickIndex {
		return Range{}, fmt.Errorf("range [%d, %d] exceeds tick bounds", rng.Lower, rng.Upper)
	}
	return rng, nil
}

// Compose opens a position over rng and deposits into it. The position is
// identified by a fresh mint whose keypair co-signs the envelope. Tick
// arrays covering the range edges are initialized between the open and the
// increase, and only when absent from the ledger: initializing an existing
// array fails the whole transaction on-chain.
func (c *TickComposer) Compose(ctx context.Context, reader AccountReader, snap *Snapshot, rng Range, funder solana.PublicKey, deposit DepositAmounts) (*envelope.Plan, error) {
	positionMint := solana.NewWallet()

	positionPDA, err := derivePosition(positionMint.PublicKey())
	if err != nil {
		return nil, err
	}
	positionTokenAccount, _, err := solana.FindAssociatedTokenAddress(funder, positionMint.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("derive position token account: %w", err)
	}

	spacing := snap.Granularity
	lowerStart := tickArrayStartIndex(rng.Lower, spacing)
	upperStart := tickArrayStartIndex(rng.Upper, spacing)

	lowerArray, err := deriveTickArray(snap.Address, lowerStart)
	if err != nil {
		return nil, err
	}
	upperArray, err := deriveTickArray(snap.Address, upperStart)
	if err != nil {
		return nil, err
	}

	plan := &envelope.Plan{}

	plan.Local = append(plan.Local, envelope.Planned{
		Step: envelope.StepOpenPosition,
		Instruction: newOpenPosition(openPositionAccounts{
			Funder:               funder,
			Position:             positionPDA,
			PositionMint:         positionMint.PublicKey(),
			PositionTokenAccount: positionTokenAccount,
			Whirlpool:            snap.Address,
		}, rng),
	})

	starts := []int32{lowerStart}
	arrays := []solana.PublicKey{lowerArray}
	if upperStart != lowerStart {
		starts = append(starts, upperStart)
		arrays = append(arrays, upperArray)
	}
	missing, err := missingAccounts(ctx, reader, arrays)
	if err != nil {
		return nil, err
	}
	for i, start := range starts {
		if !missing[i] {
			continue
		}
		plan.Local = append(plan.Local, envelope.Planned{
			Step:        envelope.StepInitRangeMetadata,
			Instruction: newInitializeTickArray(snap.Address, arrays[i], funder, start),
		})
	}

	userTokenA, _, err := solana.FindAssociatedTokenAddress(funder, snap.MintA)
	if err != nil {
		return nil, fmt.Errorf("derive token A account: %w", err)
	}
	userTokenB, _, err := solana.FindAssociatedTokenAddress(funder, snap.MintB)
	if err != nil {
		return nil, fmt.Errorf("derive token B account: %w", err)
	}

	plan.Local = append(plan.Local, envelope.Planned{
		Step: envelope.StepAddLiquidity,
		Instruction: newIncreaseLiquidity(increaseLiquidityAccounts{
			Whirlpool:            snap.Address,
			PositionAuthority:    funder,
			Position:             positionPDA,
			PositionTokenAccount: positionTokenAccount,
			UserTokenA:           userTokenA,
			UserTokenB:           userTokenB,
			VaultA:               snap.VaultA,
			VaultB:               snap.VaultB,
			TickArrayLower:       lowerArray,
			TickArrayUpper:       upperArray,
		}, deposit),
	})

	plan.EphemeralSigners = append(plan.EphemeralSigners, positionMint.PrivateKey)
	return plan, nil
}

// tickArrayStartIndex returns the start tick of the array containing tick.
func tickArrayStartIndex(tick, spacing int32) int32 {
	span := spacing * ticksPerArray
	idx := tick / span
	if tick < 0 && tick%span != 0 {
		idx--
	}
	return idx * span
}

func derivePosition(positionMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("position"),
		positionMint.Bytes(),
	}, TickProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive position: %w", err)
	}
	return addr, nil
}

// deriveTickArray uses the start tick rendered as a decimal string, matching
// the on-chain seed convention.
func deriveTickArray(whirlpool solana.PublicKey, startTick int32) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("tick_array"),
		whirlpool.Bytes(),
		[]byte(strconv.FormatInt(int64(startTick), 10)),
	}, TickProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive tick array %d: %w", startTick, err)
	}
	return addr, nil
}

func newInitializeTickArray(whirlpool, tickArray, funder solana.PublicKey, startTick int32) solana.Instruction {
	data := make([]byte, 0, 12)
	data = append(data, discInitializeTickArray[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(startTick))

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(whirlpool, false, false),
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(tickArray, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(TickProgramID, accounts, data)
}

type openPositionAccounts struct {
	Funder               solana.PublicKey
	Position             solana.PublicKey
	PositionMint         solana.PublicKey
	PositionTokenAccount solana.PublicKey
	Whirlpool            solana.PublicKey
}

func newOpenPosition(acc openPositionAccounts, rng Range) solana.Instruction {
	// args: position bump (filled by runtime re-derivation, zero is
	// accepted), tick_lower_index, tick_upper_index
	data := make([]byte, 0, 17)
	data = append(data, discOpenPosition[:]...)
	data = append(data, 0)
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Lower))
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Upper))

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Funder, true, true),
		solana.NewAccountMeta(acc.Funder, false, false),
		solana.NewAccountMeta(acc.Position, true, false),
		solana.NewAccountMeta(acc.PositionMint, true, true),
		solana.NewAccountMeta(acc.PositionTokenAccount, true, false),
		solana.NewAccountMeta(acc.Whirlpool, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
	}
	return solana.NewInstruction(TickProgramID, accounts, data)
}

type increaseLiquidityAccounts struct {
	Whirlpool            solana.PublicKey
	PositionAuthority    solana.PublicKey
	Position             solana.PublicKey
	PositionTokenAccount solana.PublicKey
	UserTokenA           solana.PublicKey
	UserTokenB           solana.PublicKey
	VaultA               solana.PublicKey
	VaultB               solana.PublicKey
	TickArrayLower       solana.PublicKey
	TickArrayUpper       solana.PublicKey
}

func newIncreaseLiquidity(acc increaseLiquidityAccounts, deposit DepositAmounts) solana.Instruction {
	// Conservative liquidity delta: the smaller token amount bounds what
	// the program can consume without breaching either token_max.
	liquidity := uint128.From64(minUint64(deposit.AmountA.Uint64(), deposit.AmountB.Uint64()))

	data := make([]byte, 0, 8+16+8+8)
	data = append(data, discIncreaseLiquidity[:]...)
	data = binary.LittleEndian.AppendUint64(data, liquidity.Lo)
	data = binary.LittleEndian.AppendUint64(data, liquidity.Hi)
	data = binary.LittleEndian.AppendUint64(data, deposit.AmountA.Uint64())
	data = binary.LittleEndian.AppendUint64(data, deposit.AmountB.Uint64())

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Whirlpool, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(acc.PositionAuthority, false, true),
		solana.NewAccountMeta(acc.Position, true, false),
		solana.NewAccountMeta(acc.PositionTokenAccount, false, false),
		solana.NewAccountMeta(acc.UserTokenA, true, false),
		solana.NewAccountMeta(acc.UserTokenB, true, false),
		solana.NewAccountMeta(acc.VaultA, true, false),
		solana.NewAccountMeta(acc.VaultB, true, false),
		solana.NewAccountMeta(acc.TickArrayLower, true, false),
		solana.NewAccountMeta(acc.TickArrayUpper, true, false),
	}
	return solana.NewInstruction(TickProgramID, accounts, data)
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
