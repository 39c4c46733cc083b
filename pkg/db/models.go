package db

import "time"

// OrderRecord is one journaled order submission.
type OrderRecord struct {
	ClientID        string
	SignalID        string
	Account         string
	Symbol          string
	Side            string
	Type            string
	Qty             float64
	Price           float64
	StopPrice       float64
	ExchangeOrderID string
	Status          string
	Error           string
	CreatedAt       time.Time
}

// SymbolRiskConfig is the last leverage/margin mode the exchange accepted.
type SymbolRiskConfig struct {
	Account    string
	Symbol     string
	Leverage   int
	MarginMode string
}

// ProcessedSignal remembers the outcome of an already handled signal id.
type ProcessedSignal struct {
	Account  string
	SignalID string
	Symbol   string
	Result   string
}
