package common

import "context"

// Gateway abstracts a perpetual futures venue: positions, balances, order
// placement and per-symbol leverage/margin settings.
type Gateway interface {
	// GetPosition returns the signed one-way position (long > 0, short < 0).
	GetPosition(ctx context.Context, symbol string) (float64, error)
	GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	GetInstrumentFilters(ctx context.Context, symbol string) (InstrumentFilters, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType MarginType) error
	ChangePositionMargin(ctx context.Context, symbol string, amount float64, mType int) error
}
