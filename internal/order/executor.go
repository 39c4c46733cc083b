package order

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"signal-core/internal/events"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// Submitter places orders. common.Gateway satisfies it.
type Submitter interface {
	SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error)
}

// Executor stamps client ids on orders, sends them, journals every attempt
// and publishes the outcome.
type Executor struct {
	account string
	gw      Submitter
	db      *db.Database
	bus     *events.Bus
	log     *logrus.Entry
}

// NewExecutor creates an executor for one account. database and bus may be nil.
func NewExecutor(account string, gw Submitter, database *db.Database, bus *events.Bus, log *logger.Logger) *Executor {
	return &Executor{
		account: account,
		gw:      gw,
		db:      database,
		bus:     bus,
		log:     log.WithComponent("order").WithField("account", account),
	}
}

// Submit sends req on behalf of signalID. role labels the order in logs,
// the journal and events. Failures come back as signal.ErrGateway.
func (e *Executor) Submit(ctx context.Context, signalID, role string, req common.OrderRequest) (common.OrderResult, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	res, err := e.gw.SubmitOrder(ctx, req)

	rec := db.OrderRecord{
		ClientID:        req.ClientID,
		SignalID:        signalID,
		Account:         e.account,
		Symbol:          req.Symbol,
		Side:            string(req.Side),
		Type:            string(req.Type),
		Qty:             parseOr(req.QtyText, req.Qty),
		Price:           parseOr(req.PriceText, req.Price),
		StopPrice:       parseOr(req.StopPriceText, req.StopPrice),
		ExchangeOrderID: res.ExchangeOrderID,
		Status:          string(res.Status),
	}
	update := events.OrderUpdate{
		Account:         e.account,
		Symbol:          req.Symbol,
		Role:            role,
		Side:            string(req.Side),
		Type:            string(req.Type),
		Qty:             req.QtyText,
		Price:           req.PriceText,
		StopPrice:       req.StopPriceText,
		ClientID:        req.ClientID,
		ExchangeOrderID: res.ExchangeOrderID,
		Time:            time.Now(),
	}
	entry := e.log.WithFields(logrus.Fields{
		"symbol":    req.Symbol,
		"role":      role,
		"side":      req.Side,
		"type":      req.Type,
		"qty":       update.Qty,
		"client_id": req.ClientID,
	})

	if err != nil {
		rec.Status = string(common.StatusRejected)
		rec.Error = err.Error()
		update.Error = err.Error()
		e.journal(ctx, rec)
		e.bus.Publish(events.EventOrderRejected, update)
		entry.WithError(err).Error("order failed")
		return res, signal.Gateway(fmt.Sprintf("submit %s order", role), err)
	}

	e.journal(ctx, rec)
	e.bus.Publish(events.EventOrderSubmitted, update)
	entry.WithField("order_id", res.ExchangeOrderID).Info("order submitted")
	return res, nil
}

func (e *Executor) journal(ctx context.Context, rec db.OrderRecord) {
	if e.db == nil {
		return
	}
	if err := e.db.InsertOrder(context.WithoutCancel(ctx), rec); err != nil {
		e.log.WithError(err).WithField("client_id", rec.ClientID).Warn("order journal write failed")
	}
}

func parseOr(text string, v float64) float64 {
	if text == "" {
		return v
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return v
	}
	return f
}
