package pool

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/envelope"
)

// stubReader serves canned account data; addresses absent from the map read
// as nonexistent accounts.
type stubReader struct {
	existing map[solana.PublicKey][]byte
}

func (r *stubReader) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	return r.existing[addr], nil
}

func (r *stubReader) MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = r.existing[k]
	}
	return out, nil
}

func emptyReader() *stubReader {
	return &stubReader{}
}

func testDeposit() DepositAmounts {
	return DepositAmounts{
		AmountA:        1_000_000,
		AmountB:        2_000_000,
		MaxSlippageBps: 50,
	}
}

func fullBinSnapshot(activeID int32) *Snapshot {
	snap := binSnapshot(activeID)
	snap.MintA = solana.NewWallet().PublicKey()
	snap.MintB = solana.NewWallet().PublicKey()
	snap.VaultA = solana.NewWallet().PublicKey()
	snap.VaultB = solana.NewWallet().PublicKey()
	return snap
}

func fullTickSnapshot(activeTick, spacing int32) *Snapshot {
	snap := tickSnapshot(activeTick, spacing)
	snap.MintA = solana.NewWallet().PublicKey()
	snap.MintB = solana.NewWallet().PublicKey()
	snap.VaultA = solana.NewWallet().PublicKey()
	snap.VaultB = solana.NewWallet().PublicKey()
	return snap
}

func stepsOf(plan *envelope.Plan) []envelope.Step {
	steps := make([]envelope.Step, 0, len(plan.Local))
	for _, p := range plan.Local {
		steps = append(steps, p.Step)
	}
	return steps
}

func TestBinCompose_PlanShape(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(100)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	steps := stepsOf(plan)
	if steps[len(steps)-1] != envelope.StepOpenPosition {
		t.Error("combined open-and-deposit must be the final step")
	}
	for _, s := range steps[:len(steps)-1] {
		if s != envelope.StepInitRangeMetadata {
			t.Errorf("leading steps must initialize range metadata, got %s", s)
		}
	}

	if len(plan.EphemeralSigners) != 1 {
		t.Fatalf("expected 1 ephemeral signer (position account), got %d", len(plan.EphemeralSigners))
	}
	if len(plan.External) != 0 {
		t.Error("composer must not emit external envelopes")
	}

	// Range [90, 110] spans only array 1 (bins 70-139): one init plus the
	// combined instruction.
	if got := len(steps); got != 2 {
		t.Errorf("expected 2 instructions for single-array range, got %d", got)
	}
}

func TestBinCompose_CombinedOpenAndDeposit(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(100)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	for _, s := range stepsOf(plan) {
		if s == envelope.StepAddLiquidity {
			t.Fatal("bin plan must not carry a standalone add-liquidity step")
		}
	}

	// The position keypair co-signs the combined instruction, so the open
	// and the deposit can never land in different transactions.
	last := plan.Local[len(plan.Local)-1]
	if last.Step != envelope.StepOpenPosition {
		t.Fatalf("final step = %s, want open-position", last.Step)
	}
	position := plan.EphemeralSigners[0].PublicKey()
	signs := false
	for _, acc := range last.Instruction.Accounts() {
		if acc.PublicKey.Equals(position) && acc.IsSigner {
			signs = true
		}
	}
	if !signs {
		t.Error("position account must sign the combined instruction")
	}
}

func TestBinCompose_RangeAcrossArrays(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(68) // concentrated range [58, 78] straddles arrays 0 and 1
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	inits := 0
	for _, s := range stepsOf(plan) {
		if s == envelope.StepInitRangeMetadata {
			inits++
		}
	}
	if inits != 2 {
		t.Errorf("straddling range must initialize 2 bin arrays, got %d", inits)
	}
}

func TestBinCompose_SkipsExistingArrays(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(68)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}

	// The range straddles arrays 0 and 1; mark array 0 as already on the
	// ledger so only array 1 needs creating.
	lowerPDA, err := deriveBinArray(snap.Address, binToArrayIndex(rng.Lower))
	if err != nil {
		t.Fatal(err)
	}
	reader := &stubReader{existing: map[solana.PublicKey][]byte{
		lowerPDA: {0x01},
	}}

	plan, err := composer.Compose(context.Background(), reader, snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	inits := 0
	for _, p := range plan.Local {
		if p.Step != envelope.StepInitRangeMetadata {
			continue
		}
		inits++
		for _, acc := range p.Instruction.Accounts() {
			if acc.PublicKey.Equals(lowerPDA) {
				t.Error("existing bin array must not be re-initialized")
			}
		}
	}
	if inits != 1 {
		t.Errorf("expected 1 init for the missing array, got %d", inits)
	}
}

func TestBinCompose_AllArraysExist(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(100)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	arrayPDA, err := deriveBinArray(snap.Address, binToArrayIndex(rng.Lower))
	if err != nil {
		t.Fatal(err)
	}
	reader := &stubReader{existing: map[solana.PublicKey][]byte{
		arrayPDA: {0x01},
	}}

	plan, err := composer.Compose(context.Background(), reader, snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	steps := stepsOf(plan)
	if len(steps) != 1 || steps[0] != envelope.StepOpenPosition {
		t.Errorf("active-pool plan should be the combined instruction only, got %v", steps)
	}
}

func TestBinCompose_Deterministic_ExceptPosition(t *testing.T) {
	composer := &BinComposer{}
	snap := fullBinSnapshot(0)
	funder := solana.NewWallet().PublicKey()
	rng, _ := composer.ResolveRange(snap, StrategyWide)

	a, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatal(err)
	}
	b, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatal(err)
	}
	// Same plan shape, distinct position keypairs.
	if len(a.Local) != len(b.Local) {
		t.Error("plan shape must be deterministic")
	}
	if a.EphemeralSigners[0].PublicKey().Equals(b.EphemeralSigners[0].PublicKey()) {
		t.Error("each composition must mint a fresh position keypair")
	}
}

func TestTickCompose_PlanShape(t *testing.T) {
	composer := &TickComposer{}
	snap := fullTickSnapshot(10_000, 64)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyWide)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	steps := stepsOf(plan)
	if steps[0] != envelope.StepOpenPosition {
		t.Error("open-position must come first")
	}
	if steps[len(steps)-1] != envelope.StepAddLiquidity {
		t.Error("add-liquidity must be the final step")
	}
	for _, s := range steps[1 : len(steps)-1] {
		if s != envelope.StepInitRangeMetadata {
			t.Errorf("middle steps must initialize range metadata, got %s", s)
		}
	}
	if len(plan.EphemeralSigners) != 1 {
		t.Fatalf("expected 1 ephemeral signer (position mint), got %d", len(plan.EphemeralSigners))
	}

	// All instructions must target the whirlpool program.
	for i, p := range plan.Local {
		if !p.Instruction.ProgramID().Equals(TickProgramID) {
			t.Errorf("instruction %d targets %s", i, p.Instruction.ProgramID())
		}
	}
}

func TestTickCompose_SingleArrayRange(t *testing.T) {
	composer := &TickComposer{}
	// spacing 64, array span 5632; concentrated range around 2816 stays in
	// array [0, 5632).
	snap := fullTickSnapshot(2816, 64)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := composer.Compose(context.Background(), emptyReader(), snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatal(err)
	}

	inits := 0
	for _, s := range stepsOf(plan) {
		if s == envelope.StepInitRangeMetadata {
			inits++
		}
	}
	if inits != 1 {
		t.Errorf("single-array range must initialize exactly 1 tick array, got %d", inits)
	}
}

func TestTickCompose_SkipsExistingArrays(t *testing.T) {
	composer := &TickComposer{}
	snap := fullTickSnapshot(2816, 64)
	funder := solana.NewWallet().PublicKey()

	rng, err := composer.ResolveRange(snap, StrategyConcentrated)
	if err != nil {
		t.Fatal(err)
	}
	arrayPDA, err := deriveTickArray(snap.Address, tickArrayStartIndex(rng.Lower, snap.Granularity))
	if err != nil {
		t.Fatal(err)
	}
	reader := &stubReader{existing: map[solana.PublicKey][]byte{
		arrayPDA: {0x01},
	}}

	plan, err := composer.Compose(context.Background(), reader, snap, rng, funder, testDeposit())
	if err != nil {
		t.Fatal(err)
	}

	steps := stepsOf(plan)
	for _, s := range steps {
		if s == envelope.StepInitRangeMetadata {
			t.Error("existing tick array must not be re-initialized")
		}
	}
	if len(steps) != 2 {
		t.Errorf("active-pool plan = %v, want open then increase", steps)
	}
}

func TestComposerFor(t *testing.T) {
	if _, err := ComposerFor(ModelBin); err != nil {
		t.Errorf("bin: %v", err)
	}
	if _, err := ComposerFor(ModelTick); err != nil {
		t.Errorf("tick: %v", err)
	}
	if _, err := ComposerFor(Model("amm")); err == nil {
		t.Error("expected error for unknown model")
	}
}
