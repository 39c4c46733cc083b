package reconciliation

import (
	"context"
	"math"
	"strconv"

	"signal-core/internal/precision"
	"signal-core/internal/signal"
	"signal-core/pkg/exchanges/common"
)

// DefaultPinOffset places PIN_ENTRY limits 0.5% under the reference price.
const DefaultPinOffset = 0.005

// Snapshot is the live signed position for one symbol. It is read fresh for
// every intent and never cached.
type Snapshot struct {
	Symbol    string
	SignedQty float64
}

func (s Snapshot) Long() bool  { return s.SignedQty > 0 }
func (s Snapshot) Short() bool { return s.SignedQty < 0 }
func (s Snapshot) Flat() bool  { return s.SignedQty == 0 }

// Role says why a step exists.
type Role string

const (
	RoleFlatten Role = "flatten"
	RoleEntry   Role = "entry"
	RoleClose   Role = "close"
	RolePin     Role = "pin"
)

// Step is one order of a plan.
type Step struct {
	Role  Role
	Order common.OrderRequest
}

// Plan is the ordered set of orders that moves exposure toward an intent.
// Resting orders for the symbol are canceled before the first step.
type Plan struct {
	Symbol        string
	CancelResting bool
	Steps         []Step
}

// Entry returns the entry or pin step, if the plan has one.
func (p Plan) Entry() (Step, bool) {
	for _, s := range p.Steps {
		if s.Role == RoleEntry || s.Role == RolePin {
			return s, true
		}
	}
	return Step{}, false
}

// PositionSource reads live positions. common.Gateway satisfies it.
type PositionSource interface {
	GetPosition(ctx context.Context, symbol string) (float64, error)
}

// Reconciler turns an intent plus the live position into a Plan.
type Reconciler struct {
	positions PositionSource
	pinOffset float64
}

// NewReconciler creates a reconciler. pinOffset <= 0 uses DefaultPinOffset.
func NewReconciler(positions PositionSource, pinOffset float64) *Reconciler {
	if pinOffset <= 0 {
		pinOffset = DefaultPinOffset
	}
	return &Reconciler{positions: positions, pinOffset: pinOffset}
}

// Snapshot fetches the current signed position from the exchange.
func (r *Reconciler) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	q, err := r.positions.GetPosition(ctx, symbol)
	if err != nil {
		return Snapshot{}, signal.Gateway("get position", err)
	}
	return Snapshot{Symbol: symbol, SignedQty: q}, nil
}

// Plan applies the decision table. Rejections return an error and no steps.
func (r *Reconciler) Plan(in signal.Intent, snap Snapshot, prec precision.Precision) (Plan, error) {
	return Build(in, snap, prec, r.pinOffset)
}

// Build is the pure decision table behind Reconciler.Plan.
func Build(in signal.Intent, snap Snapshot, prec precision.Precision, pinOffset float64) (Plan, error) {
	plan := Plan{Symbol: in.Symbol, CancelResting: true}
	q := snap.SignedQty

	switch in.Action {
	case signal.OpenLong:
		if q > 0 && !in.Flags.AllowPyramiding {
			return Plan{}, &signal.PositionExistsError{Symbol: in.Symbol, Qty: q}
		}
		if q < 0 {
			plan.Steps = append(plan.Steps, flatten(in.Symbol, q))
		}
		entry, err := entryStep(in, common.SideBuy, prec)
		if err != nil {
			return Plan{}, err
		}
		plan.Steps = append(plan.Steps, entry)

	case signal.OpenShort:
		if q < 0 && !in.Flags.AllowPyramiding {
			return Plan{}, &signal.PositionExistsError{Symbol: in.Symbol, Qty: q}
		}
		if q > 0 {
			plan.Steps = append(plan.Steps, flatten(in.Symbol, q))
		}
		entry, err := entryStep(in, common.SideSell, prec)
		if err != nil {
			return Plan{}, err
		}
		plan.Steps = append(plan.Steps, entry)

	case signal.Close:
		if q == 0 {
			return Plan{}, &signal.NoPositionError{Symbol: in.Symbol}
		}
		plan.Steps = append(plan.Steps, closeStep(in.Symbol, q))

	case signal.CloseLong:
		if q <= 0 {
			return Plan{}, &signal.NoPositionError{Symbol: in.Symbol, Qty: q, Want: "long"}
		}
		plan.Steps = append(plan.Steps, closeStep(in.Symbol, q))

	case signal.CloseShort:
		if q >= 0 {
			return Plan{}, &signal.NoPositionError{Symbol: in.Symbol, Qty: q, Want: "short"}
		}
		plan.Steps = append(plan.Steps, closeStep(in.Symbol, q))

	case signal.PinEntry:
		if q != 0 {
			return Plan{}, &signal.PositionExistsError{Symbol: in.Symbol, Qty: q}
		}
		if pinOffset <= 0 {
			pinOffset = DefaultPinOffset
		}
		qty, err := entryQty(in, prec)
		if err != nil {
			return Plan{}, err
		}
		plan.Steps = append(plan.Steps, Step{Role: RolePin, Order: common.OrderRequest{
			Symbol:      in.Symbol,
			Side:        common.SideBuy,
			Type:        common.OrderTypeLimit,
			TimeInForce: common.TIFGTC,
			QtyText:     qty,
			PriceText:   precision.RoundPrice(in.ReferencePrice*(1-pinOffset), prec.PriceDecimals),
		}})

	default:
		return Plan{}, signal.Validationf("unsupported action %q", in.Action)
	}
	return plan, nil
}

// flatten closes q entirely ahead of an entry in the other direction.
func flatten(symbol string, q float64) Step {
	s := closeStep(symbol, q)
	s.Role = RoleFlatten
	return s
}

// closeStep sends the exchange's own position amount back, unrounded.
func closeStep(symbol string, q float64) Step {
	side := common.SideSell
	if q < 0 {
		side = common.SideBuy
	}
	return Step{Role: RoleClose, Order: common.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		QtyText:    strconv.FormatFloat(math.Abs(q), 'f', -1, 64),
		ReduceOnly: true,
	}}
}

func entryStep(in signal.Intent, side common.Side, prec precision.Precision) (Step, error) {
	qty, err := entryQty(in, prec)
	if err != nil {
		return Step{}, err
	}
	return Step{Role: RoleEntry, Order: common.OrderRequest{
		Symbol:  in.Symbol,
		Side:    side,
		Type:    common.OrderTypeMarket,
		QtyText: qty,
	}}, nil
}

func entryQty(in signal.Intent, prec precision.Precision) (string, error) {
	qty := precision.RoundQuantity(in.Quantity, prec.QuantityDecimals)
	if v, _ := strconv.ParseFloat(qty, 64); v <= 0 {
		return "", signal.Validationf("quantity %v rounds to zero at %d decimals", in.Quantity, prec.QuantityDecimals)
	}
	return qty, nil
}
