package strategy

import (
	"signal-core/internal/reconciliation"
	"signal-core/internal/state"
)

// Horizons of the three-timeframe alignment filter.
const (
	Long   = "long"
	Medium = "medium"
	Short  = "short"
)

// ThreeTimeframe enters on a short-horizon change once all three horizons
// align, and flattens as soon as a long or medium change contradicts the
// position.
type ThreeTimeframe struct{}

func (ThreeTimeframe) Family() string { return "three" }

func (ThreeTimeframe) Decide(prev state.StrategyState, report Report, snap reconciliation.Snapshot) (state.StrategyState, Decision, error) {
	r, err := normalize(report, Long, Medium, Short)
	if err != nil {
		return prev, Decision{}, err
	}

	// all three flags are rewritten on every call
	next := state.StrategyState{Flags: map[string]string{}}
	changed := map[string]bool{}
	for _, h := range []string{Long, Medium, Short} {
		v := prev.Flag(h)
		if d, ok := r[h]; ok {
			changed[h] = d != v
			v = d
		}
		next.Flags[h] = v
	}

	for _, h := range []string{Long, Medium} {
		if changed[h] && opposes(snap, next.Flags[h]) {
			return next, Decision{Kind: Flatten, PersistFirst: true, Reason: h + " trend turned against position"}, nil
		}
	}

	if changed[Short] {
		dir := next.Flags[Short]
		if next.Flags[Long] == dir && next.Flags[Medium] == dir && !holds(snap, dir) {
			return next, Decision{Kind: Enter, Direction: dir, Reason: "all horizons aligned"}, nil
		}
	}
	return next, Decision{Kind: Hold, Reason: "no alignment change"}, nil
}
