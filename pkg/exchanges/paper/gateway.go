package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"signal-core/pkg/exchanges/common"
)

// Operation names accepted by FailOn.
const (
	OpGetPosition     = "GetPosition"
	OpAccountSnapshot = "GetAccountSnapshot"
	OpFilters         = "GetInstrumentFilters"
	OpSubmit          = "SubmitOrder"
	OpCancelAll       = "CancelAllOpenOrders"
	OpSetLeverage     = "SetLeverage"
	OpSetMarginType   = "SetMarginType"
	OpPositionMargin  = "ChangePositionMargin"
)

// Call is one recorded gateway call.
type Call struct {
	Op     string
	Symbol string
	Order  common.OrderRequest
}

// Gateway is an in-memory venue: market orders fill at once and move the
// position, other orders rest until canceled. It backs dry-run mode and tests.
type Gateway struct {
	mu        sync.Mutex
	positions map[string]float64
	resting   map[string][]common.OrderRequest
	filters   map[string]common.InstrumentFilters
	account   common.AccountSnapshot
	leverage  map[string]int
	margin    map[string]common.MarginType
	isoMargin map[string]float64
	calls     []Call
	failures  map[string]error
	latency   time.Duration
	check     func(common.OrderRequest) error
	nextID    atomic.Int64
}

var _ common.Gateway = (*Gateway)(nil)

// New creates a paper venue with the given account balances.
func New(total, available float64) *Gateway {
	return &Gateway{
		positions: make(map[string]float64),
		resting:   make(map[string][]common.OrderRequest),
		filters:   make(map[string]common.InstrumentFilters),
		account:   common.AccountSnapshot{TotalBalance: total, AvailableBalance: available},
		leverage:  make(map[string]int),
		margin:    make(map[string]common.MarginType),
		isoMargin: make(map[string]float64),
		failures:  make(map[string]error),
	}
}

// SetPosition seeds a signed position.
func (g *Gateway) SetPosition(symbol string, qty float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[symbol] = qty
}

// SetAccount replaces the account balances.
func (g *Gateway) SetAccount(total, available float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = common.AccountSnapshot{TotalBalance: total, AvailableBalance: available}
}

// SetFilters registers instrument filters for a symbol.
func (g *Gateway) SetFilters(f common.InstrumentFilters) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters[f.Symbol] = f
}

// SetLatency delays every call, widening race windows in tests.
func (g *Gateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

// FailOn makes every later call of op return err; a nil err clears it.
func (g *Gateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, op)
		return
	}
	g.failures[op] = err
}

// SetOrderCheck installs a venue-side check run on every submitted order;
// a non-nil result rejects that order only.
func (g *Gateway) SetOrderCheck(fn func(common.OrderRequest) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.check = fn
}

// Calls returns every recorded call in order.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// Orders returns submitted orders in submission order, failed ones included.
func (g *Gateway) Orders() []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []common.OrderRequest
	for _, c := range g.calls {
		if c.Op == OpSubmit {
			out = append(out, c.Order)
		}
	}
	return out
}

// Resting returns the open non-market orders for symbol.
func (g *Gateway) Resting(symbol string) []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OrderRequest(nil), g.resting[symbol]...)
}

// Position returns the current signed position.
func (g *Gateway) Position(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[symbol]
}

// SymbolSettings returns leverage, margin mode and isolated margin added for symbol.
func (g *Gateway) SymbolSettings(symbol string) (int, common.MarginType, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leverage[symbol], g.margin[symbol], g.isoMargin[symbol]
}

// enter records the call and returns the injected failure for op, if any.
func (g *Gateway) enter(ctx context.Context, c Call) error {
	g.mu.Lock()
	g.calls = append(g.calls, c)
	err := g.failures[c.Op]
	latency := g.latency
	g.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (float64, error) {
	if err := g.enter(ctx, Call{Op: OpGetPosition, Symbol: symbol}); err != nil {
		return 0, err
	}
	return g.Position(symbol), nil
}

func (g *Gateway) GetAccountSnapshot(ctx context.Context) (common.AccountSnapshot, error) {
	if err := g.enter(ctx, Call{Op: OpAccountSnapshot}); err != nil {
		return common.AccountSnapshot{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account, nil
}

func (g *Gateway) GetInstrumentFilters(ctx context.Context, symbol string) (common.InstrumentFilters, error) {
	if err := g.enter(ctx, Call{Op: OpFilters, Symbol: symbol}); err != nil {
		return common.InstrumentFilters{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.filters[symbol]
	if !ok {
		return common.InstrumentFilters{}, fmt.Errorf("paper: no filters for %s", symbol)
	}
	return f, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := g.enter(ctx, Call{Op: OpSubmit, Symbol: req.Symbol, Order: req}); err != nil {
		return common.OrderResult{}, err
	}
	qty := req.Qty
	if req.QtyText != "" {
		v, err := strconv.ParseFloat(req.QtyText, 64)
		if err != nil {
			return common.OrderResult{}, fmt.Errorf("paper: bad quantity %q", req.QtyText)
		}
		qty = v
	}
	if qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("paper: quantity must be positive")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.check != nil {
		if err := g.check(req); err != nil {
			return common.OrderResult{}, err
		}
	}
	id := strconv.FormatInt(g.nextID.Add(1), 10)

	if req.Type != common.OrderTypeMarket {
		g.resting[req.Symbol] = append(g.resting[req.Symbol], req)
		return common.OrderResult{ExchangeOrderID: id, Status: common.StatusNew, ClientID: req.ClientID}, nil
	}
	if req.Side == common.SideBuy {
		g.positions[req.Symbol] += qty
	} else {
		g.positions[req.Symbol] -= qty
	}
	return common.OrderResult{ExchangeOrderID: id, Status: common.StatusFilled, ClientID: req.ClientID}, nil
}

func (g *Gateway) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := g.enter(ctx, Call{Op: OpCancelAll, Symbol: symbol}); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.resting, symbol)
	return nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := g.enter(ctx, Call{Op: OpSetLeverage, Symbol: symbol}); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *Gateway) SetMarginType(ctx context.Context, symbol string, marginType common.MarginType) error {
	if err := g.enter(ctx, Call{Op: OpSetMarginType, Symbol: symbol}); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.margin[symbol] = marginType
	return nil
}

func (g *Gateway) ChangePositionMargin(ctx context.Context, symbol string, amount float64, mType int) error {
	if err := g.enter(ctx, Call{Op: OpPositionMargin, Symbol: symbol}); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if mType == common.MarginReduce {
		g.isoMargin[symbol] -= amount
	} else {
		g.isoMargin[symbol] += amount
	}
	return nil
}

// Ping always succeeds.
func (g *Gateway) Ping(ctx context.Context) error {
	return ctx.Err()
}

// GetServerTime returns the local clock in milliseconds.
func (g *Gateway) GetServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), ctx.Err()
}

// CountOp returns how many times op was called.
func (g *Gateway) CountOp(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}
