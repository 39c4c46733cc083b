// Package engine turns validated signals into exchange orders. Every signal
// for a symbol runs inside that symbol's critical section; different symbols
// run in parallel.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

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
	"signal-core/pkg/logger"
)

// Config tunes execution policy.
type Config struct {
	// AbortOnFlattenFailure skips the entry when the flatten leg before it
	// failed. Off keeps the best-effort behaviour: the entry is still sent.
	AbortOnFlattenFailure bool
}

// Deps are the collaborators of one account's engine.
type Deps struct {
	Account    string
	Gateway    common.Gateway
	Precision  *precision.Resolver
	Governor   *risk.Governor
	Reconciler *reconciliation.Reconciler
	Executor   *order.Executor
	Brackets   *order.Brackets
	States     *state.Store
	Strategies strategy.Registry
	DB         *db.Database // optional: duplicate suppression and order history
	Bus        *events.Bus
}

// Service handles signals for one account.
type Service struct {
	cfg   Config
	d     Deps
	locks *symbolLocks
	log   *logrus.Entry
}

func New(cfg Config, d Deps, log *logger.Logger) *Service {
	if d.Strategies == nil {
		d.Strategies = strategy.DefaultRegistry()
	}
	return &Service{
		cfg:   cfg,
		d:     d,
		locks: newSymbolLocks(),
		log:   log.WithComponent("engine").WithField("account", d.Account),
	}
}

func (s *Service) Account() string { return s.d.Account }

// Handle executes one intent: resolve precision, read the live position,
// plan, run the risk checks for opens, cancel resting orders, submit the
// plan, then attach protection and top up isolated margin.
func (s *Service) Handle(ctx context.Context, in signal.Intent) (Result, error) {
	unlock := s.locks.lock(in.Symbol)
	defer unlock()

	if res, ok := s.duplicate(ctx, in.SignalID); ok {
		return res, nil
	}

	res := s.newResult(in.SignalID, in.Symbol, string(in.Action))
	err := s.execute(ctx, in, nil, false, &res)
	s.finish(ctx, &res, err)
	return res, err
}

// execute runs an intent inside the caller's symbol lock. snap may carry a
// snapshot the caller already read under the same lock.
func (s *Service) execute(ctx context.Context, in signal.Intent, snap *reconciliation.Snapshot, useStop bool, res *Result) error {
	log := s.log.WithFields(logrus.Fields{"symbol": in.Symbol, "action": in.Action, "signal_id": in.SignalID})

	prec := s.d.Precision.Resolve(ctx, in.Symbol, in.PriceText)

	if snap == nil {
		cur, err := s.d.Reconciler.Snapshot(ctx, in.Symbol)
		if err != nil {
			return err
		}
		snap = &cur
	}

	plan, err := s.d.Reconciler.Plan(in, *snap, prec)
	if err != nil {
		log.WithError(err).WithField("position", snap.SignedQty).Warn("signal rejected")
		return err
	}

	if in.Action.Opens() {
		if err := s.d.Governor.CheckExposure(ctx, in); err != nil {
			return err
		}
		if err := s.d.Governor.Configure(ctx, in); err != nil {
			return err
		}
	}

	if plan.CancelResting {
		if err := s.d.Brackets.CancelResting(ctx, in.Symbol); err != nil {
			return err
		}
	}

	var entry *reconciliation.Step
	for i, step := range plan.Steps {
		out, err := s.d.Executor.Submit(ctx, in.SignalID, string(step.Role), step.Order)
		res.record(string(step.Role), step.Order, out, err)
		if err == nil {
			if step.Role == reconciliation.RoleEntry || step.Role == reconciliation.RolePin {
				entry = &plan.Steps[i]
			}
			continue
		}
		if step.Role == reconciliation.RoleFlatten && !s.cfg.AbortOnFlattenFailure {
			res.warn(fmt.Sprintf("flatten failed, entry still sent: %v", err))
			log.WithError(err).Warn("flatten failed, continuing with entry")
			continue
		}
		return err
	}

	if entry != nil && entry.Role == reconciliation.RoleEntry {
		s.protect(ctx, in, entry.Order, prec, useStop, res)
	}

	if in.Action.Opens() && entry != nil {
		amount, err := s.d.Governor.TopUpMargin(ctx, in)
		if err != nil {
			return err
		}
		if amount > 0 {
			res.Message = fmt.Sprintf("isolated margin +%v", amount)
		}
	}
	return nil
}

// protect attaches the stop or bracket for a filled entry. Failures are
// reported on the result and never undo the entry.
func (s *Service) protect(ctx context.Context, in signal.Intent, req common.OrderRequest, prec precision.Precision, useStop bool, res *Result) {
	e := order.Entry{
		SignalID:       in.SignalID,
		Symbol:         in.Symbol,
		Side:           req.Side,
		QtyText:        req.QtyText,
		ReferencePrice: in.ReferencePrice,
	}

	var err error
	switch {
	case useStop && in.StopPrice > 0:
		var leg order.Leg
		leg, err = s.d.Brackets.AttachStop(ctx, e, in.StopPrice, prec)
		if leg.Order.Symbol != "" {
			res.record("stop_loss", leg.Order, leg.Result, leg.Err)
		}
	case useStop:
		res.warn("entry has no stop price, left unprotected")
		return
	case in.Flags.AttachBracket:
		var set order.BracketSet
		set, err = s.d.Brackets.Attach(ctx, e, prec)
		for _, leg := range []struct {
			role string
			l    order.Leg
		}{{"stop_loss", set.StopLoss}, {"take_profit", set.TakeProfit}} {
			if leg.l.Order.Symbol != "" {
				res.record(leg.role, leg.l.Order, leg.l.Result, leg.l.Err)
			}
		}
	default:
		return
	}

	if err != nil {
		res.warn(err.Error())
		s.log.WithError(err).WithField("symbol", in.Symbol).Warn("protective orders incomplete")
		s.d.Bus.Publish(events.EventBracketFailed, events.SignalOutcome{
			Account:  s.d.Account,
			SignalID: in.SignalID,
			Symbol:   in.Symbol,
			Action:   string(in.Action),
			Error:    err.Error(),
			Time:     time.Now(),
		})
	}
}

func (s *Service) newResult(signalID, symbol, action string) Result {
	return Result{Account: s.d.Account, SignalID: signalID, Symbol: symbol, Action: action, Orders: []OrderOutcome{}}
}

// finish fills in the message, publishes the outcome and remembers the
// signal id when orders reached the exchange or the signal succeeded.
func (s *Service) finish(ctx context.Context, res *Result, err error) {
	detail := res.Message
	if err != nil {
		res.Message = fmt.Sprintf("order failed|symbol:%s|action:%s|error:%v", res.Symbol, res.Action, err)
	} else {
		res.Message = fmt.Sprintf("order executed successfully|symbol:%s|action:%s|orders:%d", res.Symbol, res.Action, res.Submitted())
	}
	if detail != "" {
		res.Message += "|" + detail
	}

	outcome := events.SignalOutcome{
		Account:  res.Account,
		SignalID: res.SignalID,
		Symbol:   res.Symbol,
		Action:   res.Action,
		Message:  res.Message,
		Warnings: res.Warnings,
		Time:     time.Now(),
	}
	entry := s.log.WithFields(logrus.Fields{"symbol": res.Symbol, "action": res.Action, "orders": res.Submitted()})
	if err != nil {
		outcome.Error = err.Error()
		s.d.Bus.Publish(events.EventSignalFailed, outcome)
		entry.WithError(err).Error("signal failed")
	} else {
		s.d.Bus.Publish(events.EventSignalHandled, outcome)
		entry.Info("signal handled")
	}

	if res.SignalID == "" || s.d.DB == nil || (err != nil && res.Submitted() == 0) {
		return
	}
	data, merr := json.Marshal(res)
	if merr != nil {
		return
	}
	if werr := s.d.DB.MarkSignalProcessed(context.WithoutCancel(ctx), db.ProcessedSignal{
		Account:  s.d.Account,
		SignalID: res.SignalID,
		Symbol:   res.Symbol,
		Result:   string(data),
	}); werr != nil {
		s.log.WithError(werr).WithField("signal_id", res.SignalID).Warn("could not record processed signal")
	}
}

// duplicate returns the stored result for a signal id seen before.
func (s *Service) duplicate(ctx context.Context, signalID string) (Result, bool) {
	if signalID == "" || s.d.DB == nil {
		return Result{}, false
	}
	p, err := s.d.DB.GetProcessedSignal(ctx, s.d.Account, signalID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.log.WithError(err).Warn("processed signal lookup failed")
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal([]byte(p.Result), &res); err != nil {
		res = s.newResult(signalID, p.Symbol, "")
	}
	res.Duplicate = true
	res.Message = "duplicate signal ignored|" + res.Message
	s.log.WithFields(logrus.Fields{"signal_id": signalID, "symbol": p.Symbol}).Info("duplicate signal ignored")
	return res, true
}

// AccountSnapshot returns the live balances of the account.
func (s *Service) AccountSnapshot(ctx context.Context) (common.AccountSnapshot, error) {
	snap, err := s.d.Gateway.GetAccountSnapshot(ctx)
	if err != nil {
		return common.AccountSnapshot{}, signal.Gateway("account snapshot", err)
	}
	return snap, nil
}

// Position returns the live signed position for symbol.
func (s *Service) Position(ctx context.Context, symbol string) (reconciliation.Snapshot, error) {
	return s.d.Reconciler.Snapshot(ctx, symbol)
}

// State returns the stored strategy state, read under the symbol lock.
func (s *Service) State(ctx context.Context, family, symbol string) (state.StrategyState, error) {
	strat, err := s.d.Strategies.Lookup(family)
	if err != nil {
		return state.StrategyState{}, err
	}
	unlock := s.locks.lock(symbol)
	defer unlock()
	return s.d.States.Read(ctx, strat.Family(), symbol)
}

// Orders lists journaled orders, newest first.
func (s *Service) Orders(ctx context.Context, symbol string, limit int) ([]db.OrderRecord, error) {
	if s.d.DB == nil {
		return nil, nil
	}
	return s.d.DB.ListOrders(ctx, s.d.Account, symbol, limit)
}

// SymbolConfigs returns the cached leverage and margin mode per symbol.
func (s *Service) SymbolConfigs() map[string]risk.SymbolConfig {
	return s.d.Governor.Configs()
}
