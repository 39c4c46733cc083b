package events

import "time"

// Event enumerates topics published by the signal engine.
type Event string

const (
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventSignalHandled  Event = "signal.handled"
	EventSignalFailed   Event = "signal.failed"
	EventBracketFailed  Event = "bracket.failed"
	EventStateChanged   Event = "state.changed"
)

// OrderUpdate is published for every order the engine sends.
type OrderUpdate struct {
	Account         string    `json:"account"`
	Symbol          string    `json:"symbol"`
	Role            string    `json:"role"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Qty             string    `json:"qty"`
	Price           string    `json:"price,omitempty"`
	StopPrice       string    `json:"stop_price,omitempty"`
	ClientID        string    `json:"client_id"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	Time            time.Time `json:"time"`
}

// SignalOutcome is published once per handled (or failed) signal.
type SignalOutcome struct {
	Account  string    `json:"account"`
	SignalID string    `json:"signal_id,omitempty"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Message  string    `json:"message"`
	Warnings []string  `json:"warnings,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// StateChange is published after a strategy state write.
type StateChange struct {
	Family string            `json:"family"`
	Symbol string            `json:"symbol"`
	Flags  map[string]string `json:"flags"`
	Time   time.Time         `json:"time"`
}
