package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/events"
	"signal-core/internal/order"
	"signal-core/internal/precision"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/signal"
	"signal-core/internal/state"
	"signal-core/internal/strategy"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
	"signal-core/pkg/logger"
)

type harness struct {
	svc   *Service
	gw    *paper.Gateway
	db    *db.Database
	store *state.Store
	bus   *events.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := logger.Discard()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	gw := paper.New(1000, 1000)
	bus := events.NewBus()
	exec := order.NewExecutor("main", gw, database, bus, log)
	store := state.NewStore(state.NewSQLiteKV(database), bus)

	svc := New(cfg, Deps{
		Account:    "main",
		Gateway:    gw,
		Precision:  precision.NewResolver(precision.DefaultConfig(), gw, log),
		Governor:   risk.NewGovernor(risk.DefaultConfig(), gw, risk.NewSymbolConfigCache("main", database), log),
		Reconciler: reconciliation.NewReconciler(gw, 0),
		Executor:   exec,
		Brackets:   order.NewBrackets(order.BracketConfig{}, exec, gw, log),
		States:     store,
		DB:         database,
		Bus:        bus,
	}, log)
	return &harness{svc: svc, gw: gw, db: database, store: store, bus: bus}
}

func intent(t *testing.T, action, qty, price string, flags signal.Flags) signal.Intent {
	t.Helper()
	in, err := signal.NewIntent(signal.Params{Symbol: "ETHUSDT", Action: action, Quantity: qty, Price: price, Flags: flags})
	require.NoError(t, err)
	return in
}

func TestCloseLongPosition(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetPosition("ETHUSDT", 0.5)

	res, err := h.svc.Handle(context.Background(), intent(t, "close", "", "2000.5", signal.Flags{}))
	require.NoError(t, err)

	orders := h.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, common.SideSell, orders[0].Side)
	assert.Equal(t, "0.5", orders[0].QtyText)
	assert.True(t, orders[0].ReduceOnly)
	assert.Equal(t, 1, res.Submitted())
	assert.Zero(t, h.gw.Position("ETHUSDT"))
}

func TestRejectionsSendNothing(t *testing.T) {
	tests := []struct {
		name    string
		pos     float64
		action  string
		wantErr any
	}{
		{name: "close while flat", pos: 0, action: "close", wantErr: new(*signal.NoPositionError)},
		{name: "open long while long", pos: 0.3, action: "long", wantErr: new(*signal.PositionExistsError)},
		{name: "closebuy while short", pos: -1, action: "closebuy", wantErr: new(*signal.NoPositionError)},
		{name: "pin while positioned", pos: 1, action: "pin", wantErr: new(*signal.PositionExistsError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.gw.SetPosition("ETHUSDT", tt.pos)

			_, err := h.svc.Handle(context.Background(), intent(t, tt.action, "1", "2000.5", signal.Flags{Leverage: 10}))
			require.ErrorAs(t, err, tt.wantErr)
			assert.True(t, signal.IsClientError(err))
			assert.Empty(t, h.gw.Orders())
			assert.Zero(t, h.gw.CountOp(paper.OpCancelAll))
			assert.Zero(t, h.gw.CountOp(paper.OpSetLeverage))
		})
	}
}

func TestOpenLongFlattensShortFirst(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetPosition("ETHUSDT", -0.2)

	_, err := h.svc.Handle(context.Background(), intent(t, "long", "1.5", "2000.5", signal.Flags{}))
	require.NoError(t, err)

	orders := h.gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, common.SideBuy, orders[0].Side)
	assert.Equal(t, "0.2", orders[0].QtyText)
	assert.True(t, orders[0].ReduceOnly)
	assert.Equal(t, common.SideBuy, orders[1].Side)
	assert.Equal(t, "1.50", orders[1].QtyText)
	assert.False(t, orders[1].ReduceOnly)
	assert.InDelta(t, 1.5, h.gw.Position("ETHUSDT"), 1e-9)
}

func TestOverExposureRejectsBeforeMutation(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetAccount(1000, 500)

	_, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{Leverage: 20, MarginMode: common.MarginIsolated}))
	var over *signal.OverExposureError
	require.ErrorAs(t, err, &over)
	assert.True(t, signal.IsClientError(err))
	assert.Zero(t, h.gw.CountOp(paper.OpSetLeverage))
	assert.Zero(t, h.gw.CountOp(paper.OpSetMarginType))
	assert.Empty(t, h.gw.Orders())
}

func TestRiskConfigFailureAbortsEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.FailOn(paper.OpSetLeverage, errors.New("leverage not valid"))

	_, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{Leverage: 100}))
	assert.ErrorIs(t, err, signal.ErrRiskConfig)
	assert.False(t, signal.IsClientError(err))
	assert.Empty(t, h.gw.Orders())
}

func TestIsolatedEntryConfiguresAndTopsUp(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	in := intent(t, "short", "2", "35.123", signal.Flags{Leverage: 5, MarginMode: common.MarginIsolated, PositionMargin: 12})
	_, err := h.svc.Handle(ctx, in)
	require.NoError(t, err)

	lev, mode, iso := h.gw.SymbolSettings("ETHUSDT")
	assert.Equal(t, 5, lev)
	assert.Equal(t, common.MarginIsolated, mode)
	assert.InDelta(t, 12, iso, 1e-9)

	// same settings again: no further configuration calls
	h.gw.SetPosition("ETHUSDT", 0)
	_, err = h.svc.Handle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.CountOp(paper.OpSetLeverage))
	assert.Equal(t, 1, h.gw.CountOp(paper.OpSetMarginType))
	assert.Equal(t, risk.SymbolConfig{Leverage: 5, MarginMode: common.MarginIsolated}, h.svc.SymbolConfigs()["ETHUSDT"])
}

func TestTopUpFailureKeepsEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.FailOn(paper.OpPositionMargin, errors.New("margin is insufficient"))

	res, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{MarginMode: common.MarginIsolated}))
	assert.ErrorIs(t, err, signal.ErrRiskConfig)
	assert.Equal(t, 1, res.Submitted())
	assert.InDelta(t, 1, h.gw.Position("ETHUSDT"), 1e-9)
}

func TestBracketAttachedAfterEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetFilters(common.InstrumentFilters{Symbol: "ETHUSDT", TickSize: "0.01", StepSize: "0.001"})

	res, err := h.svc.Handle(context.Background(), intent(t, "long", "0.5", "2000", signal.Flags{AttachBracket: true}))
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	resting := h.gw.Resting("ETHUSDT")
	require.Len(t, resting, 2)
	assert.Equal(t, "1960.00", resting[0].StopPriceText)
	assert.Equal(t, "2014.00", resting[1].StopPriceText)
	assert.Equal(t, "0.500", resting[0].QtyText)
	assert.Len(t, res.Orders, 3)
}

func TestBracketFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetOrderCheck(func(req common.OrderRequest) error {
		if req.Type == common.OrderTypeTakeProfitMarket {
			return errors.New("order would immediately trigger")
		}
		return nil
	})
	failed, unsub := h.bus.Subscribe(events.EventBracketFailed, 1)
	defer unsub()

	res, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{AttachBracket: true}))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "take-profit failed")
	assert.InDelta(t, 1, h.gw.Position("ETHUSDT"), 1e-9)
	assert.Len(t, h.gw.Resting("ETHUSDT"), 1)
	assert.Len(t, failed, 1)
}

func TestStaleOrdersCanceledBeforeClose(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.svc.Handle(ctx, intent(t, "long", "1", "2000.5", signal.Flags{AttachBracket: true}))
	require.NoError(t, err)
	require.Len(t, h.gw.Resting("ETHUSDT"), 2)

	_, err = h.svc.Handle(ctx, intent(t, "closebuy", "", "2010.5", signal.Flags{}))
	require.NoError(t, err)
	assert.Empty(t, h.gw.Resting("ETHUSDT"))
	assert.Zero(t, h.gw.Position("ETHUSDT"))
}

func flattenRejected(req common.OrderRequest) error {
	if req.ReduceOnly && req.Type == common.OrderTypeMarket {
		return errors.New("reduce only order is rejected")
	}
	return nil
}

func TestFlattenFailureBestEffort(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetPosition("ETHUSDT", -1)
	h.gw.SetOrderCheck(flattenRejected)

	res, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{}))
	require.NoError(t, err)
	assert.Len(t, h.gw.Orders(), 2)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "flatten failed")
}

func TestFlattenFailureAborts(t *testing.T) {
	h := newHarness(t, Config{AbortOnFlattenFailure: true})
	h.gw.SetPosition("ETHUSDT", -1)
	h.gw.SetOrderCheck(flattenRejected)

	_, err := h.svc.Handle(context.Background(), intent(t, "long", "1", "2000.5", signal.Flags{}))
	assert.ErrorIs(t, err, signal.ErrGateway)
	assert.Len(t, h.gw.Orders(), 1)
	assert.InDelta(t, -1, h.gw.Position("ETHUSDT"), 1e-9)
}

func TestDuplicateSignalIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	in, err := signal.NewIntent(signal.Params{SignalID: "tv-42", Symbol: "ETHUSDT", Action: "long", Quantity: "1", Price: "2000.5"})
	require.NoError(t, err)

	first, err := h.svc.Handle(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := h.svc.Handle(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Orders, second.Orders)
	assert.Len(t, h.gw.Orders(), 1)
}

func TestConcurrentOpensSubmitOneEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetLatency(5 * time.Millisecond)

	const n = 4
	in := intent(t, "long", "1", "2000.5", signal.Flags{})
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Handle(context.Background(), in)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorAs(t, err, new(*signal.PositionExistsError))
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, h.gw.Orders(), 1)
	assert.InDelta(t, 1, h.gw.Position("ETHUSDT"), 1e-9)
	assert.Zero(t, h.svc.locks.size())
}

func TestDifferentSymbolsRunInParallel(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.SetLatency(20 * time.Millisecond)

	symbols := []string{"ETHUSDT", "SOLUSDT", "XRPUSDT", "BNBUSDT"}
	var wg sync.WaitGroup
	start := time.Now()
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			in, err := signal.NewIntent(signal.Params{Symbol: sym, Action: "long", Quantity: "1", Price: "10.5"})
			if err == nil {
				_, err = h.svc.Handle(context.Background(), in)
			}
			assert.NoError(t, err)
		}(sym)
	}
	wg.Wait()

	// each handle makes several gateway round trips; serial execution would
	// take at least len(symbols) times as long
	perSymbol := 5 * 20 * time.Millisecond
	assert.Less(t, time.Since(start), time.Duration(len(symbols)-1)*perSymbol)
	assert.Len(t, h.gw.Orders(), len(symbols))
}

func threeSignal(long, medium, short string) strategy.Signal {
	return strategy.Signal{
		Family: "three",
		Report: strategy.Report{strategy.Long: long, strategy.Medium: medium, strategy.Short: short},
		Params: signal.Params{Symbol: "ETHUSDT", Quantity: "1", Price: "2000.5"},
	}
}

func TestThreeTimeframeFlipFlattensAndPersists(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	prev := state.StrategyState{}.With("long", "buy").With("medium", "buy").With("short", "sell")
	require.NoError(t, h.store.Write(ctx, "three", "ETHUSDT", prev))
	h.gw.SetPosition("ETHUSDT", 0.7)

	res, err := h.svc.HandleStrategy(ctx, threeSignal("sell", "buy", "sell"))
	require.NoError(t, err)
	assert.Contains(t, res.Decision, string(strategy.Flatten))

	orders := h.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, common.SideSell, orders[0].Side)
	assert.Equal(t, "0.7", orders[0].QtyText)

	st, err := h.store.Read(ctx, "three", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"long": "sell", "medium": "buy", "short": "sell"}, st.Flags)
}

func TestThreeTimeframeAlignedEntry(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Write(ctx, "three", "ETHUSDT", state.StrategyState{}.With("long", "sell").With("medium", "sell").With("short", "buy")))
	h.gw.SetPosition("ETHUSDT", 0.4)

	_, err := h.svc.HandleStrategy(ctx, threeSignal("sell", "sell", "sell"))
	require.NoError(t, err)

	orders := h.gw.Orders()
	require.Len(t, orders, 2, "flatten the long, then enter short")
	assert.Equal(t, common.SideSell, orders[1].Side)
	assert.InDelta(t, -1, h.gw.Position("ETHUSDT"), 1e-9)
}

func TestStrategyStateWrittenBeforeFailedFlatten(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Write(ctx, "two", "ETHUSDT", state.StrategyState{}.With("major", "buy")))
	h.gw.SetPosition("ETHUSDT", 1)
	h.gw.FailOn(paper.OpSubmit, errors.New("service unavailable"))

	_, err := h.svc.HandleStrategy(ctx, strategy.Signal{
		Family: "two",
		Report: strategy.Report{strategy.Major: "sell"},
		Params: signal.Params{Symbol: "ethusdt", Price: "2000.5"},
	})
	assert.ErrorIs(t, err, signal.ErrGateway)

	st, err := h.store.Read(ctx, "two", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "sell", st.Flag("major"))
}

func TestInvalidStrategyOrderLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	prev := state.StrategyState{}.With("long", "buy").With("medium", "buy").With("short", "sell")
	require.NoError(t, h.store.Write(ctx, "three", "ETHUSDT", prev))
	h.gw.SetPosition("ETHUSDT", 0.7)

	flip := strategy.Signal{
		Family: "three",
		Report: strategy.Report{strategy.Long: "sell"},
		Params: signal.Params{Symbol: "ETHUSDT"},
	}
	_, err := h.svc.HandleStrategy(ctx, flip)
	require.ErrorIs(t, err, signal.ErrValidation)
	assert.Empty(t, h.gw.Orders())

	st, err := h.store.Read(ctx, "three", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, prev.Flags, st.Flags)

	// the corrected alert still sees the flip and flattens
	flip.Params.Price = "2000.5"
	res, err := h.svc.HandleStrategy(ctx, flip)
	require.NoError(t, err)
	assert.Contains(t, res.Decision, string(strategy.Flatten))
	assert.InDelta(t, 0, h.gw.Position("ETHUSDT"), 1e-9)
}

func TestInvalidStrategyEntryLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	prev := state.StrategyState{}.With("long", "sell").With("medium", "sell").With("short", "buy")
	require.NoError(t, h.store.Write(ctx, "three", "ETHUSDT", prev))

	sig := threeSignal("sell", "sell", "sell")
	sig.Params.Quantity = ""
	_, err := h.svc.HandleStrategy(ctx, sig)
	require.ErrorIs(t, err, signal.ErrValidation)
	assert.Empty(t, h.gw.Orders())

	st, err := h.store.Read(ctx, "three", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "buy", st.Flag("short"))
}

func TestTwoTimeframeEntryUsesStop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.store.Write(ctx, "two", "ETHUSDT", state.StrategyState{}.With("major", "buy")))

	res, err := h.svc.HandleStrategy(ctx, strategy.Signal{
		Family: "two",
		Report: strategy.Report{strategy.Minor: "buy"},
		Params: signal.Params{Symbol: "ETHUSDT", Quantity: "1", Price: "2000.5", StopPrice: "1950.25"},
	})
	require.NoError(t, err)
	assert.Equal(t, "two:OPEN_LONG", res.Action)

	resting := h.gw.Resting("ETHUSDT")
	require.Len(t, resting, 1)
	assert.Equal(t, common.OrderTypeStopMarket, resting[0].Type)
	assert.Equal(t, "1950.3", resting[0].StopPriceText)

	st, err := h.store.Read(ctx, "two", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "buy", st.Flag("minor"))
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (brokenKV) Put(context.Context, string, []byte) error {
	return errors.New("read-only file system")
}

func TestStateWriteFailureSurfaces(t *testing.T) {
	h := newHarness(t, Config{})
	h.svc.d.States = state.NewStore(brokenKV{}, nil)

	_, err := h.svc.HandleStrategy(context.Background(), strategy.Signal{
		Family: "three",
		Report: strategy.Report{strategy.Long: "buy"},
		Params: signal.Params{Symbol: "ETHUSDT", Price: "2000.5"},
	})
	assert.ErrorIs(t, err, signal.ErrStateDurability)
	assert.False(t, signal.IsClientError(err))
}

func TestUnknownStrategy(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.HandleStrategy(context.Background(), strategy.Signal{Family: "grid", Params: signal.Params{Symbol: "ETHUSDT"}})
	assert.ErrorIs(t, err, signal.ErrValidation)
}
