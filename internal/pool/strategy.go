package pool

import "fmt"

// Range half-widths per strategy, expressed in granularity steps on either
// side of the active index. A concentrated bin range of +/-10 covers 21 bins
// including the active one; wide covers 81.
const (
	concentratedHalfWidth = 10
	wideHalfWidth         = 40
)

func halfWidthFor(strategy Strategy) (int32, error) {
	switch strategy {
	case StrategyConcentrated:
		return concentratedHalfWidth, nil
	case StrategyWide:
		return wideHalfWidth, nil
	default:
		return 0, fmt.Errorf("unsupported strategy %q", strategy)
	}
}

// resolveBinRange centers the range on the active bin. Bin ids are directly
// addressable so no snapping is needed.
func resolveBinRange(snap *Snapshot, strategy Strategy) (Range, error) {
	half, err := halfWidthFor(strategy)
	if err != nil {
		return Range{}, err
	}
	return Range{
		Lower: snap.ActiveIndex - half,
		Upper: snap.ActiveIndex + half,
	}, nil
}

// resolveTickRange centers the range on the active tick, scaled by the tick
// spacing, then snaps both edges inward onto spacing multiples. Snapping
// inward keeps the realized width at or below the strategy width; widening
// past it would change the risk profile the caller asked for.
func resolveTickRange(snap *Snapshot, strategy Strategy) (Range, error) {
	half, err := halfWidthFor(strategy)
	if err != nil {
		return Range{}, err
	}
	spacing := snap.Granularity
	if spacing <= 0 {
		return Range{}, fmt.Errorf("pool %s has invalid tick spacing %d", snap.Address, spacing)
	}

	lower := snapInward(snap.ActiveIndex-half*spacing, spacing, true)
	upper := snapInward(snap.ActiveIndex+half*spacing, spacing, false)

	if lower >= upper {
		// Active tick sits so close to an edge that snapping collapsed the
		// range; fall back to one spacing on each side.
		base := snapInward(snap.ActiveIndex, spacing, false)
		lower, upper = base-spacing, base+spacing
	}

	return Range{Lower: lower, Upper: upper}, nil
}

// snapInward rounds tick to a multiple of spacing, moving toward the
// range interior: up for the lower bound, down for the upper bound.
func snapInward(tick, spacing int32, isLower bool) int32 {
	rem := tick % spacing
	if rem == 0 {
		return tick
	}
	down := tick - rem
	if rem < 0 {
		down -= spacing
	}
	if isLower {
		return down + spacing
	}
	return down
}
