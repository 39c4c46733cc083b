package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/signal"
)

// Direction values stored in strategy flags.
const (
	Buy     = "buy"
	Sell    = "sell"
	Neutral = ""
)

// StrategyState is the last-seen directional flags of one strategy family
// for one symbol.
type StrategyState struct {
	Flags     map[string]string `json:"flags"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Flag returns the stored value for name, Neutral when unset.
func (s StrategyState) Flag(name string) string {
	return s.Flags[name]
}

// With returns a copy of s with name set to value.
func (s StrategyState) With(name, value string) StrategyState {
	out := StrategyState{Flags: maps.Clone(s.Flags), UpdatedAt: s.UpdatedAt}
	if out.Flags == nil {
		out.Flags = make(map[string]string)
	}
	out.Flags[name] = value
	return out
}

// Equal reports whether both states carry the same flags.
func (s StrategyState) Equal(o StrategyState) bool {
	return maps.Equal(s.Flags, o.Flags)
}

// Store reads and rewrites whole strategy records on top of a KV backend.
// Callers serialize access per symbol.
type Store struct {
	kv  KV
	bus *events.Bus
}

func NewStore(kv KV, bus *events.Bus) *Store {
	return &Store{kv: kv, bus: bus}
}

func key(family, symbol string) string {
	return strings.ToLower(family) + "/" + strings.ToUpper(symbol)
}

// Read returns the stored state, or an empty one the first time a symbol is seen.
func (s *Store) Read(ctx context.Context, family, symbol string) (StrategyState, error) {
	data, ok, err := s.kv.Get(ctx, key(family, symbol))
	if err != nil {
		return StrategyState{}, signal.Durability("read strategy state", err)
	}
	if !ok {
		return StrategyState{Flags: map[string]string{}}, nil
	}
	var st StrategyState
	if err := json.Unmarshal(data, &st); err != nil {
		return StrategyState{}, signal.Durability("decode strategy state", fmt.Errorf("%s: %w", key(family, symbol), err))
	}
	if st.Flags == nil {
		st.Flags = map[string]string{}
	}
	return st, nil
}

// Write replaces the full record for family/symbol.
func (s *Store) Write(ctx context.Context, family, symbol string, st StrategyState) error {
	st.UpdatedAt = time.Now().UTC()
	if st.Flags == nil {
		st.Flags = map[string]string{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return signal.Durability("encode strategy state", err)
	}
	if err := s.kv.Put(ctx, key(family, symbol), data); err != nil {
		return signal.Durability("write strategy state", err)
	}
	s.bus.Publish(events.EventStateChanged, events.StateChange{
		Family: family,
		Symbol: symbol,
		Flags:  maps.Clone(st.Flags),
		Time:   st.UpdatedAt,
	})
	return nil
}
