package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"signal-core/internal/precision"
	"signal-core/internal/signal"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// Default protective distances as fractions of the reference price.
const (
	DefaultStopLoss   = 0.02
	DefaultTakeProfit = 0.007
)

// Canceler removes resting orders. common.Gateway satisfies it.
type Canceler interface {
	CancelAllOpenOrders(ctx context.Context, symbol string) error
}

// BracketConfig holds the fixed stop-loss and take-profit fractions.
type BracketConfig struct {
	StopLoss    float64
	TakeProfit  float64
	WorkingType string // MARK_PRICE or CONTRACT_PRICE, empty for the exchange default
}

// Entry describes a submitted entry that protective orders hang off.
type Entry struct {
	SignalID       string
	Symbol         string
	Side           common.Side
	QtyText        string
	ReferencePrice float64
}

// Leg is one protective order and its outcome.
type Leg struct {
	Order  common.OrderRequest
	Result common.OrderResult
	Err    error
}

// BracketSet is the stop-loss/take-profit pair of one entry.
type BracketSet struct {
	StopLoss   Leg
	TakeProfit Leg
}

// BracketError reports protective orders that could not be placed. The
// entry they belong to stays in effect.
type BracketError struct {
	Symbol     string
	Cancel     error
	StopLoss   error
	TakeProfit error
}

func (e *BracketError) Error() string {
	switch {
	case e.Cancel != nil:
		return fmt.Sprintf("%s: cancel resting orders before bracket: %v", e.Symbol, e.Cancel)
	case e.StopLoss != nil && e.TakeProfit != nil:
		return fmt.Sprintf("%s: stop-loss failed: %v; take-profit failed: %v", e.Symbol, e.StopLoss, e.TakeProfit)
	case e.StopLoss != nil:
		return fmt.Sprintf("%s: stop-loss failed: %v", e.Symbol, e.StopLoss)
	default:
		return fmt.Sprintf("%s: take-profit failed: %v", e.Symbol, e.TakeProfit)
	}
}

func (e *BracketError) Unwrap() []error {
	return []error{e.Cancel, e.StopLoss, e.TakeProfit}
}

// Brackets places and replaces protective orders around entries.
type Brackets struct {
	cfg    BracketConfig
	exec   *Executor
	cancel Canceler
	log    *logrus.Entry
}

// NewBrackets creates a bracket manager. Zero fractions use the defaults.
func NewBrackets(cfg BracketConfig, exec *Executor, cancel Canceler, log *logger.Logger) *Brackets {
	if cfg.StopLoss <= 0 {
		cfg.StopLoss = DefaultStopLoss
	}
	if cfg.TakeProfit <= 0 {
		cfg.TakeProfit = DefaultTakeProfit
	}
	return &Brackets{cfg: cfg, exec: exec, cancel: cancel, log: log.WithComponent("bracket")}
}

// CancelResting cancels every resting order for symbol. Nothing open is success.
func (b *Brackets) CancelResting(ctx context.Context, symbol string) error {
	if err := b.cancel.CancelAllOpenOrders(ctx, symbol); err != nil {
		return signal.Gateway("cancel resting orders", err)
	}
	return nil
}

// Levels returns the stop-loss and take-profit trigger prices for an entry.
func (b *Brackets) Levels(side common.Side, ref float64) (stopLoss, takeProfit float64) {
	if side == common.SideBuy {
		return ref * (1 - b.cfg.StopLoss), ref * (1 + b.cfg.TakeProfit)
	}
	return ref * (1 + b.cfg.StopLoss), ref * (1 - b.cfg.TakeProfit)
}

// Attach cancels stale orders for the symbol and places a stop-loss and a
// take-profit sized to the entry. A non-nil error is a *BracketError; the
// returned set still carries whichever leg succeeded.
func (b *Brackets) Attach(ctx context.Context, entry Entry, prec precision.Precision) (BracketSet, error) {
	var set BracketSet
	if err := b.CancelResting(ctx, entry.Symbol); err != nil {
		b.log.WithError(err).WithField("symbol", entry.Symbol).Warn("bracket skipped")
		return set, &BracketError{Symbol: entry.Symbol, Cancel: err}
	}

	sl, tp := b.Levels(entry.Side, entry.ReferencePrice)
	set.StopLoss = b.place(ctx, entry, "stop_loss", common.OrderTypeStopMarket, precision.RoundPrice(sl, prec.PriceDecimals))
	set.TakeProfit = b.place(ctx, entry, "take_profit", common.OrderTypeTakeProfitMarket, precision.RoundPrice(tp, prec.PriceDecimals))

	if set.StopLoss.Err != nil || set.TakeProfit.Err != nil {
		return set, &BracketError{Symbol: entry.Symbol, StopLoss: set.StopLoss.Err, TakeProfit: set.TakeProfit.Err}
	}
	b.log.WithFields(logrus.Fields{
		"symbol":      entry.Symbol,
		"stop_loss":   set.StopLoss.Order.StopPriceText,
		"take_profit": set.TakeProfit.Order.StopPriceText,
	}).Info("bracket attached")
	return set, nil
}

// AttachStop cancels stale orders and places a single protective stop at a
// caller-chosen level.
func (b *Brackets) AttachStop(ctx context.Context, entry Entry, stopPrice float64, prec precision.Precision) (Leg, error) {
	if err := b.CancelResting(ctx, entry.Symbol); err != nil {
		return Leg{}, &BracketError{Symbol: entry.Symbol, Cancel: err}
	}
	if stopPrice <= 0 {
		return Leg{}, &BracketError{Symbol: entry.Symbol, StopLoss: errors.New("no stop price supplied")}
	}
	leg := b.place(ctx, entry, "stop_loss", common.OrderTypeStopMarket, precision.RoundPrice(stopPrice, prec.PriceDecimals))
	if leg.Err != nil {
		return leg, &BracketError{Symbol: entry.Symbol, StopLoss: leg.Err}
	}
	return leg, nil
}

func (b *Brackets) place(ctx context.Context, entry Entry, role string, typ common.OrderType, trigger string) Leg {
	leg := Leg{Order: common.OrderRequest{
		Symbol:        entry.Symbol,
		Side:          entry.Side.Opposite(),
		Type:          typ,
		QtyText:       entry.QtyText,
		StopPriceText: trigger,
		ReduceOnly:    true,
		WorkingType:   b.cfg.WorkingType,
	}}
	leg.Result, leg.Err = b.exec.Submit(ctx, entry.SignalID, role, leg.Order)
	return leg
}
