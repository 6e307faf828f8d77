// Package envelope defines the transaction envelope abstraction shared by the
// composers, the assembler and the submission engine. An envelope is an
// assembled, not-yet-broadcast transaction: an ordered slice of instructions
// plus the expiry handle, fee payer and any ephemeral co-signers it needs.
//
// Envelopes come in two wire shapes. Locally composed envelopes are built as
// legacy transactions from raw instructions. Envelopes sourced from the quote
// service arrive pre-serialized in the versioned shape, possibly already
// carrying co-signatures; those must never be re-compiled because doing so
// would invalidate the signatures. Build is the only code that branches on
// shape.
package envelope

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Shape identifies the wire format of an envelope.
type Shape int

const (
	// ShapeLegacy is the original transaction message format.
	ShapeLegacy Shape = iota
	// ShapeVersioned is the v0 message format with address lookup tables.
	ShapeVersioned
)

func (s Shape) String() string {
	switch s {
	case ShapeLegacy:
		return "legacy"
	case ShapeVersioned:
		return "versioned"
	default:
		return "unknown"
	}
}

// Step tags an instruction or envelope with its logical role in the plan.
type Step int

const (
	StepSwapA Step = iota
	StepSwapB
	StepOpenPosition
	StepAddLiquidity
	StepInitRangeMetadata
	StepFeeTransfer
	StepTip
)

func (s Step) String() string {
	switch s {
	case StepSwapA:
		return "swap-a"
	case StepSwapB:
		return "swap-b"
	case StepOpenPosition:
		return "open-position"
	case StepAddLiquidity:
		return "add-liquidity"
	case StepInitRangeMetadata:
		return "init-range-metadata"
	case StepFeeTransfer:
		return "fee-transfer"
	case StepTip:
		return "tip"
	default:
		return "unknown"
	}
}

// ExpiryHandle is a recent blockhash plus the height after which the ledger
// rejects transactions that reference it.
type ExpiryHandle struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// IsZero reports whether the handle was never fetched.
func (h ExpiryHandle) IsZero() bool {
	return h.Blockhash == solana.Hash{}
}

// Planned is a single instruction paired with its logical step tag.
type Planned struct {
	Step        Step
	Instruction solana.Instruction
}

// Plan is the ordered instruction plan produced by a composer. Order is
// semantically significant: later instructions may depend on account state
// created by earlier ones.
type Plan struct {
	// Local holds instructions composed in-process, in execution order.
	Local []Planned
	// External holds pre-serialized envelopes (swap legs from the quote
	// service) that must precede the local instructions.
	External []*Envelope
	// EphemeralSigners are keypairs created during composition that must
	// co-sign the envelope carrying the local instructions.
	EphemeralSigners []solana.PrivateKey
}

// Steps returns the ordered step tags across the whole plan.
func (p *Plan) Steps() []Step {
	out := make([]Step, 0, len(p.External)+len(p.Local))
	for _, env := range p.External {
		out = append(out, env.Steps...)
	}
	for _, pi := range p.Local {
		out = append(out, pi.Step)
	}
	return out
}

var (
	// ErrExpiredHandle indicates the envelope's blockhash aged out before
	// broadcast.
	ErrExpiredHandle = errors.New("envelope: expiry handle is stale")
	// ErrImmutableEnvelope indicates an attempt to rebuild an externally
	// sourced, pre-signed envelope.
	ErrImmutableEnvelope = errors.New("envelope: external envelope cannot be recompiled")
)

// Envelope is an assembled, not-yet-broadcast transaction.
type Envelope struct {
	// Steps are the logical steps this envelope carries, in order.
	Steps []Step
	// Shape is the wire format the envelope serializes to.
	Shape Shape
	// FeePayer funds the transaction fee and any rent the instructions need.
	FeePayer solana.PublicKey

	// Instructions holds the local instruction set. Empty for external
	// envelopes.
	Instructions []solana.Instruction
	// Expiry is the handle attached at assembly time. External envelopes
	// carry the handle their source embedded.
	Expiry ExpiryHandle
	// EphemeralSigners are short-lived keypairs (position accounts, position
	// mints) that must co-sign before the remote signer adds the owner
	// signature.
	EphemeralSigners []solana.PrivateKey

	// Prebuilt is the decoded external transaction, set only when External
	// is true. Its signatures are preserved verbatim.
	Prebuilt *solana.Transaction
	// External marks envelopes that arrived pre-serialized from an outside
	// source.
	External bool
}

// Build compiles the envelope into a transaction ready for signing. For
// external envelopes the pre-built transaction is returned verbatim so
// existing co-signatures stay valid. For local envelopes the instructions are
// compiled against the attached expiry handle and any ephemeral co-signers
// are applied via partial signing.
func (e *Envelope) Build() (*solana.Transaction, error) {
	if e.External {
		if e.Prebuilt == nil {
			return nil, errors.New("envelope: external envelope has no prebuilt transaction")
		}
		return e.Prebuilt, nil
	}

	if e.Expiry.IsZero() {
		return nil, ErrExpiredHandle
	}
	if len(e.Instructions) == 0 {
		return nil, errors.New("envelope: no instructions to compile")
	}

	tx, err := solana.NewTransaction(
		e.Instructions,
		e.Expiry.Blockhash,
		solana.TransactionPayer(e.FeePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("compile envelope: %w", err)
	}

	if len(e.EphemeralSigners) > 0 {
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			for i := range e.EphemeralSigners {
				if e.EphemeralSigners[i].PublicKey().Equals(key) {
					return &e.EphemeralSigners[i]
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("apply ephemeral signatures: %w", err)
		}
	}

	return tx, nil
}

// Refresh replaces the expiry handle on a local envelope. External envelopes
// are immutable; callers get ErrImmutableEnvelope and must re-fetch the swap
// leg from its source instead.
func (e *Envelope) Refresh(handle ExpiryHandle) error {
	if e.External {
		return ErrImmutableEnvelope
	}
	e.Expiry = handle
	return nil
}

// FromBase64 decodes a pre-serialized transaction (as returned by the quote
// service) into an external envelope, preserving shape and signatures.
func FromBase64(encoded string, steps ...Step) (*Envelope, error) {
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode external transaction: %w", err)
	}

	shape := ShapeLegacy
	if tx.Message.IsVersioned() {
		shape = ShapeVersioned
	}

	feePayer := solana.PublicKey{}
	if len(tx.Message.AccountKeys) > 0 {
		feePayer = tx.Message.AccountKeys[0]
	}

	return &Envelope{
		Steps:    steps,
		Shape:    shape,
		FeePayer: feePayer,
		Prebuilt: tx,
		Expiry:   ExpiryHandle{Blockhash: tx.Message.RecentBlockhash},
		External: true,
	}, nil
}

// The ledger caps serialized transactions at 1232 bytes (MTU-derived).
const MaxSerializedSize = 1232

// EstimateSize approximates the serialized size of a transaction built from
// the given instructions. The estimate is deliberately conservative: unique
// account keys are counted once (as they are in the compiled message) and a
// fixed header plus one signature per known signer is assumed.
func EstimateSize(feePayer solana.PublicKey, extraSigners int, ixs []solana.Instruction) int {
	seen := map[solana.PublicKey]struct{}{feePayer: {}}
	size := 0
	for _, ix := range ixs {
		seen[ix.ProgramID()] = struct{}{}
		for _, acc := range ix.Accounts() {
			seen[acc.PublicKey] = struct{}{}
		}
		data, err := ix.Data()
		if err == nil {
			size += len(data)
		}
		// per-instruction overhead: program index, account count, indexes
		size += 3 + len(ix.Accounts())
	}
	// header: signature count + signatures + message header + blockhash
	size += 1 + (1+extraSigners)*64 + 3 + 32
	// account table: count prefix + 32 bytes per unique key
	size += 1 + len(seen)*32
	return size
}
