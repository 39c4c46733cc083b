package strategy

import (
	"fmt"
	"strings"

	"signal-core/internal/reconciliation"
	"signal-core/internal/signal"
	"signal-core/internal/state"
)

// Kind is what a strategy wants done with the position this call.
type Kind string

const (
	Hold    Kind = "hold"
	Flatten Kind = "flatten"
	Enter   Kind = "enter"
)

// Decision is the outcome of one strategy evaluation.
type Decision struct {
	Kind      Kind
	Direction string // state.Buy or state.Sell for Enter
	// PersistFirst requires the next state to be durable before any order
	// for this decision is sent.
	PersistFirst bool
	// UseStop protects the entry with a single stop at the signal's stop price
	// instead of a bracket.
	UseStop bool
	Reason  string
}

// Report is the set of timeframe directions one alert carries, keyed by
// timeframe name.
type Report map[string]string

// Signal is a stateful-strategy alert: the reported directions plus the
// order parameters used if the strategy decides to act.
type Signal struct {
	Family string
	Report Report
	Params signal.Params
}

// Strategy evaluates a report against the stored state and the live position.
// Implementations are pure: all I/O is done by the caller.
type Strategy interface {
	Family() string
	Decide(prev state.StrategyState, report Report, snap reconciliation.Snapshot) (state.StrategyState, Decision, error)
}

// Registry resolves strategy families by name.
type Registry map[string]Strategy

// DefaultRegistry holds the built-in strategies.
func DefaultRegistry() Registry {
	r := Registry{}
	r.Register(TwoTimeframe{})
	r.Register(ThreeTimeframe{})
	return r
}

func (r Registry) Register(s Strategy) {
	r[s.Family()] = s
}

func (r Registry) Lookup(family string) (Strategy, error) {
	s, ok := r[strings.ToLower(strings.TrimSpace(family))]
	if !ok {
		return nil, signal.Validationf("unknown strategy %q", family)
	}
	return s, nil
}

// ParseDirection normalizes a direction; neutral is not accepted in reports.
func ParseDirection(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "up":
		return state.Buy, nil
	case "sell", "short", "down":
		return state.Sell, nil
	}
	return "", signal.Validationf("invalid direction %q", s)
}

// opposes reports whether holding snap contradicts direction.
func opposes(snap reconciliation.Snapshot, direction string) bool {
	return (direction == state.Sell && snap.Long()) || (direction == state.Buy && snap.Short())
}

// holds reports whether snap is already positioned in direction.
func holds(snap reconciliation.Snapshot, direction string) bool {
	return (direction == state.Buy && snap.Long()) || (direction == state.Sell && snap.Short())
}

// EntryAction maps a direction to the opening action.
func EntryAction(direction string) signal.Action {
	if direction == state.Sell {
		return signal.OpenShort
	}
	return signal.OpenLong
}

func normalize(report Report, allowed ...string) (Report, error) {
	out := make(Report, len(report))
	for tf, dir := range report {
		tf = strings.ToLower(strings.TrimSpace(tf))
		known := false
		for _, a := range allowed {
			if tf == a {
				known = true
				break
			}
		}
		if !known {
			return nil, signal.Validationf("unknown timeframe %q (want one of %s)", tf, strings.Join(allowed, ", "))
		}
		d, err := ParseDirection(dir)
		if err != nil {
			return nil, fmt.Errorf("timeframe %s: %w", tf, err)
		}
		out[tf] = d
	}
	if len(out) == 0 {
		return nil, signal.Validationf("no timeframe reported")
	}
	return out, nil
}
