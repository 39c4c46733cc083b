package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"signal-core/internal/signal"
	"signal-core/internal/strategy"
	"signal-core/pkg/exchanges/common"
)

// rawNumber keeps a value exactly as the sender wrote it, whether it arrived
// as a JSON string or a JSON number. Price precision depends on the digits.
type rawNumber string

func (n *rawNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = rawNumber(strings.TrimSpace(s))
		return nil
	}
	*n = rawNumber(b)
	return nil
}

// UnmarshalParam lets form bindings fill the field.
func (n *rawNumber) UnmarshalParam(param string) error {
	*n = rawNumber(strings.TrimSpace(param))
	return nil
}

// messageRequest is the webhook body. Plain signals use Action; stateful
// strategy alerts use Strategy with either Timeframe+Direction or Report.
type messageRequest struct {
	SignalID  string    `json:"signal_id" form:"signal_id"`
	Account   string    `json:"account" form:"account"`
	Symbol    string    `json:"symbol" form:"symbol"`
	Action    string    `json:"action" form:"action"`
	Quantity  rawNumber `json:"quantity" form:"quantity"`
	Price     rawNumber `json:"price" form:"price"`
	StopPrice rawNumber `json:"stop_price" form:"stop_price"`

	AllowPyramiding      bool    `json:"allow_pyramiding" form:"allow_pyramiding"`
	AttachBracket        bool    `json:"attach_bracket" form:"attach_bracket"`
	MarginMode           string  `json:"margin_mode" form:"margin_mode"`
	Leverage             int     `json:"leverage" form:"leverage"`
	PositionMargin       float64 `json:"position_margin" form:"position_margin"`
	MaxMarginUtilization float64 `json:"max_margin_utilization" form:"max_margin_utilization"`

	Strategy  string            `json:"strategy" form:"strategy"`
	Timeframe string            `json:"timeframe" form:"timeframe"`
	Direction string            `json:"direction" form:"direction"`
	Report    map[string]string `json:"report" form:"-"`
}

func (r messageRequest) params() signal.Params {
	return signal.Params{
		SignalID:  r.SignalID,
		Account:   r.Account,
		Symbol:    r.Symbol,
		Action:    r.Action,
		Quantity:  string(r.Quantity),
		Price:     string(r.Price),
		StopPrice: string(r.StopPrice),
		Flags: signal.Flags{
			AllowPyramiding:      r.AllowPyramiding,
			AttachBracket:        r.AttachBracket,
			MarginMode:           common.MarginType(strings.ToUpper(strings.TrimSpace(r.MarginMode))),
			Leverage:             r.Leverage,
			PositionMargin:       r.PositionMargin,
			MaxMarginUtilization: r.MaxMarginUtilization,
		},
	}
}

func (r messageRequest) isStrategy() bool {
	return strings.TrimSpace(r.Strategy) != ""
}

func (r messageRequest) strategySignal() (strategy.Signal, error) {
	report := strategy.Report{}
	for tf, dir := range r.Report {
		report[tf] = dir
	}
	if tf := strings.TrimSpace(r.Timeframe); tf != "" {
		if r.Direction == "" {
			return strategy.Signal{}, signal.Validationf("direction is required with timeframe")
		}
		report[tf] = r.Direction
	}
	return strategy.Signal{Family: r.Strategy, Report: report, Params: r.params()}, nil
}
