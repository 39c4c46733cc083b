package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the engine submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// MarginType is the per-symbol collateral mode.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

// Position margin adjustment directions.
const (
	MarginAdd    = 1
	MarginReduce = 2
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_MARKET/TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool
	WorkingType string // MARK_PRICE or CONTRACT_PRICE

	// Formatted values win over Qty/Price/StopPrice when set, so rounding
	// done upstream reaches the wire unchanged.
	QtyText       string
	PriceText     string
	StopPriceText string
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// AccountSnapshot is the balance view the risk checks need.
type AccountSnapshot struct {
	TotalBalance     float64
	AvailableBalance float64
}

// InstrumentFilters carries the exchange's price and lot step sizes.
type InstrumentFilters struct {
	Symbol   string
	TickSize string
	StepSize string
}
