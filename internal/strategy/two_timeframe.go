package strategy

import (
	"signal-core/internal/reconciliation"
	"signal-core/internal/signal"
	"signal-core/internal/state"
)

// Timeframes of the two-timeframe trend filter.
const (
	Major = "major"
	Minor = "minor"
)

// TwoTimeframe trades the minor timeframe only in the direction last
// reported by the major one.
type TwoTimeframe struct{}

func (TwoTimeframe) Family() string { return "two" }

func (TwoTimeframe) Decide(prev state.StrategyState, report Report, snap reconciliation.Snapshot) (state.StrategyState, Decision, error) {
	r, err := normalize(report, Major, Minor)
	if err != nil {
		return prev, Decision{}, err
	}
	if len(r) != 1 {
		return prev, Decision{}, signal.Validationf("two-timeframe alerts report exactly one timeframe")
	}

	if dir, ok := r[Major]; ok {
		next := prev.With(Major, dir)
		flipped := prev.Flag(Major) != dir
		if flipped && opposes(snap, dir) {
			return next, Decision{Kind: Flatten, PersistFirst: true, Reason: "major trend flipped against position"}, nil
		}
		return next, Decision{Kind: Hold, Reason: "major trend recorded"}, nil
	}

	dir := r[Minor]
	next := prev.With(Minor, dir)
	switch {
	case prev.Flag(Major) == state.Neutral:
		return next, Decision{Kind: Hold, Reason: "no major trend yet"}, nil
	case dir != prev.Flag(Major):
		return next, Decision{Kind: Hold, Reason: "minor signal against major trend"}, nil
	case holds(snap, dir):
		return next, Decision{Kind: Hold, Reason: "already positioned with trend"}, nil
	}
	return next, Decision{Kind: Enter, Direction: dir, UseStop: true, Reason: "minor signal agrees with major trend"}, nil
}
