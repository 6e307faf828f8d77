package pool

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
)

// Bin pool (DLMM) program constants.
var (
	BinProgramID      = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")
	binEventAuthority = solana.MustPublicKeyFromBase58("D1ZN9Wj1fRSUQfCjhvnu1hqDMT7hzjzBBpi12nVniYD6")
)

// maxBinPerArray is the number of bins one bin array account covers.
const maxBinPerArray = 70

// anchorDiscriminator derives the 8-byte instruction discriminator for an
// anchor program instruction.
func anchorDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// AccountDiscriminator derives the 8-byte account discriminator for an
// anchor account type, used in memcmp scan filters.
func AccountDiscriminator(accountName string) []byte {
	hash := sha256.Sum256([]byte("account:" + accountName))
	return hash[:8]
}

var (
	discInitializeBinArray = anchorDiscriminator("initialize_bin_array")
	discInitPositionAndAdd = anchorDiscriminator("initialize_position_and_add_liquidity_by_strategy")
)

// lbPairStatic mirrors the static parameter block at the head of an LbPair
// account.
type lbPairStatic struct {
	BaseFactor               uint16
	FilterPeriod             uint16
	DecayPeriod              uint16
	ReductionFactor          uint16
	VariableFeeControl       uint32
	MaxVolatilityAccumulator uint32
	MinBinID                 int32
	MaxBinID                 int32
	ProtocolShare            uint16
	BasePowerFactor          uint8
	Padding                  [5]uint8
}

// lbPairPrefix decodes the leading fields of an LbPair account, up to and
// including the reserves. The trailing reward and bitmap state is not needed
// for provisioning and is left undecoded.
type lbPairPrefix struct {
	Discriminator [8]uint8
	Parameters    lbPairStatic
	VParameters   [32]uint8
	BumpSeed      [1]uint8
	BinStepSeed   [2]uint8
	PairType      uint8
	ActiveID      int32
	BinStep       uint16
	Status        uint8
	RequireBase   uint8
	BaseSeed      [2]uint8
	Activation    uint8
	CreatorToggle uint8
	TokenXMint    solana.PublicKey
	TokenYMint    solana.PublicKey
	ReserveX      solana.PublicKey
	ReserveY      solana.PublicKey
}

func decodeBinSnapshot(address solana.PublicKey, data []byte) (*Snapshot, error) {
	var pair lbPairPrefix
	if err := bin.NewBorshDecoder(data).Decode(&pair); err != nil {
		return nil, fmt.Errorf("decode lbPair %s: %w", address, err)
	}

	return &Snapshot{
		Address:     address,
		Model:       ModelBin,
		MintA:       pair.TokenXMint,
		MintB:       pair.TokenYMint,
		VaultA:      pair.ReserveX,
		VaultB:      pair.ReserveY,
		ActiveIndex: pair.ActiveID,
		Granularity: 1,
		BinStep:     pair.BinStep,
	}, nil
}

// BinComposer builds instruction plans for bin model pools.
type BinComposer struct{}

// ResolveRange implements Composer.
func (c *BinComposer) ResolveRange(snap *Snapshot, strategy Strategy) (Range, error) {
	return resolveBinRange(snap, strategy)
}

// Compose opens a position covering rng and deposits both amounts across it
// in one combined program instruction, so the open and the deposit can never
// be split apart. The position account is a fresh ephemeral keypair that
// co-signs the envelope. Bin arrays the range reaches into are initialized
// first, but only the ones that do not exist on the ledger yet: the init is
// a create, and creating an existing array fails the whole transaction.
func (c *BinComposer) Compose(ctx context.Context, reader AccountReader, snap *Snapshot, rng Range, funder solana.PublicKey, deposit DepositAmounts) (*envelope.Plan, error) {
	position := solana.NewWallet()

	lowerArray := binToArrayIndex(rng.Lower)
	upperArray := binToArrayIndex(rng.Upper)

	indexes := make([]int64, 0, upperArray-lowerArray+1)
	arrayPDAs := make([]solana.PublicKey, 0, cap(indexes))
	for idx := lowerArray; idx <= upperArray; idx++ {
		pda, err := deriveBinArray(snap.Address, idx)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
		arrayPDAs = append(arrayPDAs, pda)
	}

	missing, err := missingAccounts(ctx, reader, arrayPDAs)
	if err != nil {
		return nil, err
	}

	plan := &envelope.Plan{}
	for i, idx := range indexes {
		if !missing[i] {
			continue
		}
		plan.Local = append(plan.Local, envelope.Planned{
			Step:        envelope.StepInitRangeMetadata,
			Instruction: newInitializeBinArray(snap.Address, arrayPDAs[i], funder, idx),
		})
	}

	userTokenX, _, err := solana.FindAssociatedTokenAddress(funder, snap.MintA)
	if err != nil {
		return nil, fmt.Errorf("derive token X account: %w", err)
	}
	userTokenY, _, err := solana.FindAssociatedTokenAddress(funder, snap.MintB)
	if err != nil {
		return nil, fmt.Errorf("derive token Y account: %w", err)
	}

	plan.Local = append(plan.Local, envelope.Planned{
		Step: envelope.StepOpenPosition,
		Instruction: newInitializePositionAndAddLiquidity(addLiquidityAccounts{
			Position:   position.PublicKey(),
			LbPair:     snap.Address,
			UserTokenX: userTokenX,
			UserTokenY: userTokenY,
			ReserveX:   snap.VaultA,
			ReserveY:   snap.VaultB,
			TokenXMint: snap.MintA,
			TokenYMint: snap.MintB,
			BinArrayLo: arrayPDAs[0],
			BinArrayUp: arrayPDAs[len(arrayPDAs)-1],
			Sender:     funder,
		}, snap.ActiveIndex, rng, deposit),
	})

	plan.EphemeralSigners = append(plan.EphemeralSigners, position.PrivateKey)
	return plan, nil
}

// binToArrayIndex maps a bin id to the index of the array account holding
// it. Negative ids floor toward negative infinity so adjacent arrays tile
// the id space without gaps.
func binToArrayIndex(binID int32) int64 {
	q := binID / maxBinPerArray
	r := binID % maxBinPerArray
	if binID < 0 && r != 0 {
		q--
	}
	return int64(q)
}

func deriveBinArray(lbPair solana.PublicKey, index int64) (solana.PublicKey, error) {
	idxLE := make([]byte, 8)
	binary.LittleEndian.PutUint64(idxLE, uint64(index))
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("bin_array"),
		lbPair.Bytes(),
		idxLE,
	}, BinProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bin array %d: %w", index, err)
	}
	return addr, nil
}

func newInitializeBinArray(lbPair, binArray, funder solana.PublicKey, index int64) solana.Instruction {
	data := make([]byte, 0, 16)
	data = append(data, discInitializeBinArray[:]...)
	data = binary.LittleEndian.AppendUint64(data, uint64(index))

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(lbPair, false, false),
		solana.NewAccountMeta(binArray, true, false),
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(BinProgramID, accounts, data)
}

type addLiquidityAccounts struct {
	Position   solana.PublicKey
	LbPair     solana.PublicKey
	UserTokenX solana.PublicKey
	UserTokenY solana.PublicKey
	ReserveX   solana.PublicKey
	ReserveY   solana.PublicKey
	TokenXMint solana.PublicKey
	TokenYMint solana.PublicKey
	BinArrayLo solana.PublicKey
	BinArrayUp solana.PublicKey
	Sender     solana.PublicKey
}

// strategy type tag for an even spread across the whole range.
const binStrategySpotBalanced = 0

// newInitializePositionAndAddLiquidity builds the combined instruction that
// creates the position account over the range and deposits into it
// atomically. The position is a fresh keypair and must co-sign alongside
// the sender.
func newInitializePositionAndAddLiquidity(acc addLiquidityAccounts, activeID int32, rng Range, deposit DepositAmounts) solana.Instruction {
	data := make([]byte, 0, 8+4+4+8+8+4+4+4+4+1+64)
	data = append(data, discInitPositionAndAdd[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Lower))
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Width()+1))
	data = binary.LittleEndian.AppendUint64(data, deposit.AmountA.Uint64())
	data = binary.LittleEndian.AppendUint64(data, deposit.AmountB.Uint64())
	data = binary.LittleEndian.AppendUint32(data, uint32(activeID))
	data = binary.LittleEndian.AppendUint32(data, uint32(int32(deposit.MaxSlippageBps)))
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Lower))
	data = binary.LittleEndian.AppendUint32(data, uint32(rng.Upper))
	data = append(data, binStrategySpotBalanced)
	data = append(data, make([]byte, 64)...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Position, true, true),
		solana.NewAccountMeta(acc.LbPair, true, false),
		solana.NewAccountMeta(BinProgramID, false, false), // bitmap extension unused
		solana.NewAccountMeta(acc.UserTokenX, true, false),
		solana.NewAccountMeta(acc.UserTokenY, true, false),
		solana.NewAccountMeta(acc.ReserveX, true, false),
		solana.NewAccountMeta(acc.ReserveY, true, false),
		solana.NewAccountMeta(acc.TokenXMint, false, false),
		solana.NewAccountMeta(acc.TokenYMint, false, false),
		solana.NewAccountMeta(acc.BinArrayLo, true, false),
		solana.NewAccountMeta(acc.BinArrayUp, true, false),
		solana.NewAccountMeta(acc.Sender, false, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(binEventAuthority, false, false),
		solana.NewAccountMeta(BinProgramID, false, false),
	}
	return solana.NewInstruction(BinProgramID, accounts, data)
}
