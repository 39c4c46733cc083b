package signal

import (
	"fmt"
	"strconv"
	"strings"

	"signal-core/pkg/exchanges/common"
)

// Action is what an inbound signal asks the engine to do.
type Action string

const (
	OpenLong   Action = "OPEN_LONG"
	OpenShort  Action = "OPEN_SHORT"
	Close      Action = "CLOSE"
	CloseLong  Action = "CLOSE_LONG"
	CloseShort Action = "CLOSE_SHORT"
	PinEntry   Action = "PIN_ENTRY"
)

// Webhook payloads use short lowercase names; both spellings are accepted.
var actionAliases = map[string]Action{
	"long":      OpenLong,
	"buy":       OpenLong,
	"short":     OpenShort,
	"sell":      OpenShort,
	"close":     Close,
	"closebuy":  CloseLong,
	"closesell": CloseShort,
	"pin":       PinEntry,
}

// ParseAction resolves canonical names and webhook aliases.
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	switch a := Action(strings.ToUpper(s)); a {
	case OpenLong, OpenShort, Close, CloseLong, CloseShort, PinEntry:
		return a, nil
	}
	if a, ok := actionAliases[strings.ToLower(s)]; ok {
		return a, nil
	}
	return "", Validationf("unknown action %q", s)
}

// Opens reports whether the action adds exposure and so passes the risk checks.
func (a Action) Opens() bool {
	return a == OpenLong || a == OpenShort
}

// Flags tune how one intent is executed.
type Flags struct {
	AllowPyramiding      bool
	AttachBracket        bool
	MarginMode           common.MarginType // empty leaves the symbol as is
	Leverage             int               // 0 leaves the symbol as is
	PositionMargin       float64           // isolated top-up; 0 uses the default
	MaxMarginUtilization float64           // 0 uses the default
}

// Intent is one validated signal. Build it with NewIntent; it is not mutated afterwards.
type Intent struct {
	SignalID string
	Account  string
	Symbol   string
	Action   Action
	Quantity float64
	// PriceText is the reference price exactly as received; its digit count
	// drives the heuristic precision.
	PriceText      string
	ReferencePrice float64
	StopPrice      float64
	Flags          Flags
}

// Params is the raw, unvalidated shape an intent is built from.
type Params struct {
	SignalID  string
	Account   string
	Symbol    string
	Action    string
	Quantity  string
	Price     string
	StopPrice string
	Flags     Flags
}

// NewIntent validates p and returns an immutable Intent.
func NewIntent(p Params) (Intent, error) {
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return Intent{}, Validationf("symbol is required")
	}
	action, err := ParseAction(p.Action)
	if err != nil {
		return Intent{}, err
	}

	in := Intent{
		SignalID: strings.TrimSpace(p.SignalID),
		Account:  strings.TrimSpace(p.Account),
		Symbol:   symbol,
		Action:   action,
		Flags:    p.Flags,
	}

	priceText := strings.TrimSpace(p.Price)
	if priceText == "" {
		return Intent{}, Validationf("price is required")
	}
	price, err := strconv.ParseFloat(priceText, 64)
	if err != nil || price <= 0 {
		return Intent{}, Validationf("invalid price %q", p.Price)
	}
	in.PriceText = priceText
	in.ReferencePrice = price

	// Closing actions size themselves from the live position.
	if action.Opens() || action == PinEntry {
		qty, err := strconv.ParseFloat(strings.TrimSpace(p.Quantity), 64)
		if err != nil || qty <= 0 {
			return Intent{}, Validationf("invalid quantity %q", p.Quantity)
		}
		in.Quantity = qty
	}

	if s := strings.TrimSpace(p.StopPrice); s != "" {
		stop, err := strconv.ParseFloat(s, 64)
		if err != nil || stop <= 0 {
			return Intent{}, Validationf("invalid stop price %q", p.StopPrice)
		}
		in.StopPrice = stop
	}

	switch in.Flags.MarginMode {
	case "", common.MarginIsolated, common.MarginCrossed:
	default:
		return Intent{}, Validationf("invalid margin mode %q", in.Flags.MarginMode)
	}
	if in.Flags.Leverage < 0 || in.Flags.Leverage > 125 {
		return Intent{}, Validationf("invalid leverage %d", in.Flags.Leverage)
	}
	if u := in.Flags.MaxMarginUtilization; u < 0 || u > 1 {
		return Intent{}, Validationf("invalid max margin utilization %v", u)
	}
	if in.Flags.PositionMargin < 0 {
		return Intent{}, Validationf("invalid position margin %v", in.Flags.PositionMargin)
	}
	return in, nil
}

func (in Intent) String() string {
	return fmt.Sprintf("%s %s qty=%v ref=%s", in.Action, in.Symbol, in.Quantity, in.PriceText)
}
