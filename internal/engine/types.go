package engine

import "signal-core/pkg/exchanges/common"

// OrderOutcome is one order the engine sent while handling a signal.
type OrderOutcome struct {
	Role            string `json:"role"`
	Side            string `json:"side"`
	Type            string `json:"type"`
	Qty             string `json:"qty"`
	Price           string `json:"price,omitempty"`
	StopPrice       string `json:"stop_price,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Result is what the caller gets back for one signal.
type Result struct {
	Account   string         `json:"account"`
	SignalID  string         `json:"signal_id,omitempty"`
	Symbol    string         `json:"symbol"`
	Action    string         `json:"action"`
	Message   string         `json:"message"`
	Decision  string         `json:"decision,omitempty"`
	Orders    []OrderOutcome `json:"orders"`
	Warnings  []string       `json:"warnings,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

func (r *Result) record(role string, req common.OrderRequest, res common.OrderResult, err error) {
	o := OrderOutcome{
		Role:            role,
		Side:            string(req.Side),
		Type:            string(req.Type),
		Qty:             req.QtyText,
		Price:           req.PriceText,
		StopPrice:       req.StopPriceText,
		ClientID:        res.ClientID,
		ExchangeOrderID: res.ExchangeOrderID,
	}
	if err != nil {
		o.Error = err.Error()
	}
	r.Orders = append(r.Orders, o)
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Submitted counts orders the exchange accepted.
func (r Result) Submitted() int {
	n := 0
	for _, o := range r.Orders {
		if o.Error == "" {
			n++
		}
	}
	return n
}
