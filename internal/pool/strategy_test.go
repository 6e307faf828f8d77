package pool

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func binSnapshot(activeID int32) *Snapshot {
	return &Snapshot{
		Address:     solana.NewWallet().PublicKey(),
		Model:       ModelBin,
		ActiveIndex: activeID,
		Granularity: 1,
		BinStep:     25,
	}
}

func tickSnapshot(activeTick, spacing int32) *Snapshot {
	return &Snapshot{
		Address:     solana.NewWallet().PublicKey(),
		Model:       ModelTick,
		ActiveIndex: activeTick,
		Granularity: spacing,
	}
}

func TestResolveRange_WideStrictlyWiderThanConcentrated(t *testing.T) {
	cases := []struct {
		name     string
		composer Composer
		snap     *Snapshot
	}{
		{"bin centered", &BinComposer{}, binSnapshot(0)},
		{"bin negative active", &BinComposer{}, binSnapshot(-3241)},
		{"tick aligned", &TickComposer{}, tickSnapshot(6400, 64)},
		{"tick unaligned", &TickComposer{}, tickSnapshot(6437, 64)},
		{"tick negative unaligned", &TickComposer{}, tickSnapshot(-6437, 64)},
		{"tick tiny spacing", &TickComposer{}, tickSnapshot(17, 1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			concentrated, err := tc.composer.ResolveRange(tc.snap, StrategyConcentrated)
			if err != nil {
				t.Fatalf("concentrated: %v", err)
			}
			wide, err := tc.composer.ResolveRange(tc.snap, StrategyWide)
			if err != nil {
				t.Fatalf("wide: %v", err)
			}
			if wide.Width() <= concentrated.Width() {
				t.Errorf("wide width %d not strictly greater than concentrated %d",
					wide.Width(), concentrated.Width())
			}
		})
	}
}

func TestResolveRange_BoundsAndAlignment(t *testing.T) {
	snaps := []*Snapshot{
		binSnapshot(0),
		binSnapshot(8811),
		binSnapshot(-311),
		tickSnapshot(0, 8),
		tickSnapshot(19_456, 64),
		tickSnapshot(19_455, 64),
		tickSnapshot(-19_455, 64),
		tickSnapshot(3, 128),
	}

	for _, snap := range snaps {
		composer, err := ComposerFor(snap.Model)
		if err != nil {
			t.Fatal(err)
		}
		for _, strategy := range []Strategy{StrategyConcentrated, StrategyWide} {
			rng, err := composer.ResolveRange(snap, strategy)
			if err != nil {
				t.Fatalf("model=%s strategy=%s: %v", snap.Model, strategy, err)
			}
			if rng.Lower >= rng.Upper {
				t.Errorf("model=%s strategy=%s active=%d: lower %d >= upper %d",
					snap.Model, strategy, snap.ActiveIndex, rng.Lower, rng.Upper)
			}
			if rng.Lower%snap.Granularity != 0 || rng.Upper%snap.Granularity != 0 {
				t.Errorf("model=%s strategy=%s: bounds [%d, %d] not aligned to %d",
					snap.Model, strategy, rng.Lower, rng.Upper, snap.Granularity)
			}
		}
	}
}

func TestResolveRange_SnapNeverWidens(t *testing.T) {
	for _, active := range []int32{1, 63, 64, 65, -1, -63, -64, -65, 9999} {
		snap := tickSnapshot(active, 64)
		rng, err := (&TickComposer{}).ResolveRange(snap, StrategyConcentrated)
		if err != nil {
			t.Fatalf("active=%d: %v", active, err)
		}
		maxWidth := int32(2 * concentratedHalfWidth * 64)
		if rng.Width() > maxWidth {
			t.Errorf("active=%d: width %d exceeds strategy width %d", active, rng.Width(), maxWidth)
		}
	}
}

func TestResolveRange_Deterministic(t *testing.T) {
	snap := tickSnapshot(12_345, 64)
	a, _ := (&TickComposer{}).ResolveRange(snap, StrategyWide)
	b, _ := (&TickComposer{}).ResolveRange(snap, StrategyWide)
	if a != b {
		t.Errorf("same snapshot produced different ranges: %v vs %v", a, b)
	}
}

func TestResolveRange_UnsupportedStrategy(t *testing.T) {
	if _, err := (&BinComposer{}).ResolveRange(binSnapshot(0), Strategy("balanced")); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestParseModelAndStrategy(t *testing.T) {
	if _, err := ParseModel("bin"); err != nil {
		t.Errorf("bin: %v", err)
	}
	if _, err := ParseModel("amm"); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := ParseStrategy("wide"); err != nil {
		t.Errorf("wide: %v", err)
	}
	if _, err := ParseStrategy(""); err == nil {
		t.Error("expected error for empty strategy")
	}
}

func TestBinToArrayIndex(t *testing.T) {
	cases := []struct {
		binID int32
		want  int64
	}{
		{0, 0}, {69, 0}, {70, 1}, {139, 1}, {140, 2},
		{-1, -1}, {-70, -1}, {-71, -2},
	}
	for _, tc := range cases {
		if got := binToArrayIndex(tc.binID); got != tc.want {
			t.Errorf("binToArrayIndex(%d) = %d, want %d", tc.binID, got, tc.want)
		}
	}
}

func TestTickArrayStartIndex(t *testing.T) {
	cases := []struct {
		tick, spacing, want int32
	}{
		{0, 64, 0},
		{5631, 64, 0},
		{5632, 64, 5632},
		{-1, 64, -5632},
		{-5632, 64, -5632},
		{-5633, 64, -11264},
	}
	for _, tc := range cases {
		if got := tickArrayStartIndex(tc.tick, tc.spacing); got != tc.want {
			t.Errorf("tickArrayStartIndex(%d, %d) = %d, want %d", tc.tick, tc.spacing, got, tc.want)
		}
	}
}
