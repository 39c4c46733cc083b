package order

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/events"
	"signal-core/internal/precision"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
	"signal-core/pkg/logger"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestExecutorJournalsAndPublishes(t *testing.T) {
	gw := paper.New(1000, 1000)
	database := newTestDB(t)
	bus := events.NewBus()

	submitted, unsubSubmitted := bus.Subscribe(events.EventOrderSubmitted, 4)
	defer unsubSubmitted()
	rejected, unsubRejected := bus.Subscribe(events.EventOrderRejected, 4)
	defer unsubRejected()

	exec := NewExecutor("main", gw, database, bus, logger.Discard())
	ctx := context.Background()

	res, err := exec.Submit(ctx, "sig-1", "entry", common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, QtyText: "0.5",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientID)

	gw.FailOn(paper.OpSubmit, errors.New("insufficient margin"))
	_, err = exec.Submit(ctx, "sig-2", "entry", common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, QtyText: "0.5",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, signal.ErrGateway)

	require.Len(t, submitted, 1)
	require.Len(t, rejected, 1)
	ok := (<-submitted).(events.OrderUpdate)
	assert.Equal(t, "entry", ok.Role)
	assert.Equal(t, res.ClientID, ok.ClientID)
	bad := (<-rejected).(events.OrderUpdate)
	assert.Equal(t, "insufficient margin", bad.Error)

	recs, err := database.ListOrders(ctx, "main", "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, string(common.StatusRejected), recs[0].Status)
	assert.Equal(t, "insufficient margin", recs[0].Error)
	assert.Equal(t, "sig-1", recs[1].SignalID)
	assert.InDelta(t, 0.5, recs[1].Qty, 1e-9)
}

func TestExecutorKeepsCallerClientID(t *testing.T) {
	gw := paper.New(1000, 1000)
	exec := NewExecutor("main", gw, nil, nil, logger.Discard())

	res, err := exec.Submit(context.Background(), "", "close", common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, QtyText: "1", ClientID: "fixed-id",
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", gw.Orders()[0].ClientID)
	assert.Equal(t, "fixed-id", res.ClientID)
}

func newBrackets(gw *paper.Gateway) *Brackets {
	exec := NewExecutor("main", gw, nil, nil, logger.Discard())
	return NewBrackets(BracketConfig{}, exec, gw, logger.Discard())
}

func TestAttachLongBracket(t *testing.T) {
	gw := paper.New(1000, 1000)
	ctx := context.Background()
	_, _ = gw.SubmitOrder(ctx, common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, QtyText: "1", PriceText: "2500"})

	b := newBrackets(gw)
	prec := precision.Precision{QuantityDecimals: 3, PriceDecimals: 2}
	set, err := b.Attach(ctx, Entry{Symbol: "ETHUSDT", Side: common.SideBuy, QtyText: "0.5", ReferencePrice: 2000}, prec)
	require.NoError(t, err)

	assert.Equal(t, "1960.00", set.StopLoss.Order.StopPriceText)
	assert.Equal(t, "2014.00", set.TakeProfit.Order.StopPriceText)

	resting := gw.Resting("ETHUSDT")
	require.Len(t, resting, 2, "stale limit order should be cancelled")
	for _, o := range resting {
		assert.Equal(t, common.SideSell, o.Side)
		assert.True(t, o.ReduceOnly)
		assert.Equal(t, "0.5", o.QtyText)
	}
	assert.Equal(t, common.OrderTypeStopMarket, resting[0].Type)
	assert.Equal(t, common.OrderTypeTakeProfitMarket, resting[1].Type)
}

func TestAttachShortBracket(t *testing.T) {
	gw := paper.New(1000, 1000)
	b := newBrackets(gw)

	set, err := b.Attach(context.Background(), Entry{Symbol: "SOLUSDT", Side: common.SideSell, QtyText: "3", ReferencePrice: 150}, precision.Precision{PriceDecimals: 3})
	require.NoError(t, err)
	assert.Equal(t, common.SideBuy, set.StopLoss.Order.Side)
	assert.Equal(t, "153.000", set.StopLoss.Order.StopPriceText)
	assert.Equal(t, "148.950", set.TakeProfit.Order.StopPriceText)
}

func TestAttachFailureIsReported(t *testing.T) {
	gw := paper.New(1000, 1000)
	b := newBrackets(gw)
	gw.FailOn(paper.OpSubmit, errors.New("order would immediately trigger"))

	_, err := b.Attach(context.Background(), Entry{Symbol: "ETHUSDT", Side: common.SideBuy, QtyText: "1", ReferencePrice: 2000}, precision.Precision{PriceDecimals: 2})
	var be *BracketError
	require.ErrorAs(t, err, &be)
	assert.Error(t, be.StopLoss)
	assert.Error(t, be.TakeProfit)
	assert.ErrorIs(t, err, signal.ErrGateway)
}

func TestAttachSkippedWhenCancelFails(t *testing.T) {
	gw := paper.New(1000, 1000)
	b := newBrackets(gw)
	gw.FailOn(paper.OpCancelAll, errors.New("timeout"))

	_, err := b.Attach(context.Background(), Entry{Symbol: "ETHUSDT", Side: common.SideBuy, QtyText: "1", ReferencePrice: 2000}, precision.Precision{PriceDecimals: 2})
	var be *BracketError
	require.ErrorAs(t, err, &be)
	assert.Error(t, be.Cancel)
	assert.Equal(t, 0, gw.CountOp(paper.OpSubmit))
}

func TestAttachStop(t *testing.T) {
	gw := paper.New(1000, 1000)
	b := newBrackets(gw)

	leg, err := b.AttachStop(context.Background(), Entry{Symbol: "ETHUSDT", Side: common.SideSell, QtyText: "2"}, 2105.456, precision.Precision{PriceDecimals: 2})
	require.NoError(t, err)
	assert.Equal(t, "2105.46", leg.Order.StopPriceText)
	assert.Equal(t, common.SideBuy, leg.Order.Side)

	_, err = b.AttachStop(context.Background(), Entry{Symbol: "ETHUSDT", Side: common.SideSell, QtyText: "2"}, 0, precision.Precision{PriceDecimals: 2})
	assert.Error(t, err)
}
