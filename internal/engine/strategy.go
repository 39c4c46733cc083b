package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"signal-core/internal/signal"
	"signal-core/internal/strategy"
)

// HandleStrategy runs a stateful strategy alert. The state read, the
// decision, any orders and the state write all happen under the symbol lock.
// When the decision requires it the new state is written before any order;
// otherwise it is written after the orders, whether or not they succeeded.
func (s *Service) HandleStrategy(ctx context.Context, sig strategy.Signal) (Result, error) {
	strat, err := s.d.Strategies.Lookup(sig.Family)
	if err != nil {
		return Result{}, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(sig.Params.Symbol))
	if symbol == "" {
		return Result{}, signal.Validationf("symbol is required")
	}
	sig.Params.Symbol = symbol

	unlock := s.locks.lock(symbol)
	defer unlock()

	signalID := strings.TrimSpace(sig.Params.SignalID)
	if res, ok := s.duplicate(ctx, signalID); ok {
		return res, nil
	}

	res := s.newResult(signalID, symbol, strat.Family())
	err = s.runStrategy(ctx, strat, sig, &res)
	s.finish(ctx, &res, err)
	return res, err
}

func (s *Service) runStrategy(ctx context.Context, strat strategy.Strategy, sig strategy.Signal, res *Result) error {
	family, symbol := strat.Family(), sig.Params.Symbol

	prev, err := s.d.States.Read(ctx, family, symbol)
	if err != nil {
		return err
	}
	snap, err := s.d.Reconciler.Snapshot(ctx, symbol)
	if err != nil {
		return err
	}
	next, d, err := strat.Decide(prev, sig.Report, snap)
	if err != nil {
		return err
	}
	res.Decision = fmt.Sprintf("%s: %s", d.Kind, d.Reason)
	s.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"strategy": family,
		"decision": d.Kind,
		"reason":   d.Reason,
		"position": snap.SignedQty,
	}).Info("strategy decided")

	// Validate the order before any write; a rejected alert leaves the
	// stored flags as they were.
	var (
		in      signal.Intent
		acting  bool
		useStop bool
	)
	switch d.Kind {
	case strategy.Flatten:
		in, err = strategyIntent(sig, signal.Close)
		acting = true
	case strategy.Enter:
		in, err = strategyIntent(sig, strategy.EntryAction(d.Direction))
		acting, useStop = true, d.UseStop
	}
	if err != nil {
		return err
	}

	if d.PersistFirst {
		if err := s.d.States.Write(ctx, family, symbol, next); err != nil {
			return err
		}
	}

	var orderErr error
	if acting {
		res.Action = fmt.Sprintf("%s:%s", res.Action, in.Action)
		orderErr = s.execute(ctx, in, &snap, useStop, res)
	}

	if d.PersistFirst {
		return orderErr
	}
	if err := s.d.States.Write(ctx, family, symbol, next); err != nil {
		return errors.Join(orderErr, err)
	}
	return orderErr
}

func strategyIntent(sig strategy.Signal, action signal.Action) (signal.Intent, error) {
	p := sig.Params
	p.Action = string(action)
	return signal.NewIntent(p)
}
