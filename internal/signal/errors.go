package signal

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the engine returns wraps exactly one of these so
// the transport can map it to a status code with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrPositionState   = errors.New("position state error")
	ErrRiskConfig      = errors.New("risk config error")
	ErrGateway         = errors.New("gateway error")
	ErrStateDurability = errors.New("state durability error")
)

// KindError tags a cause with one of the kinds above.
type KindError struct {
	Kind error
	Op   string
	Err  error
}

func (e *KindError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *KindError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Validationf builds an ErrValidation.
func Validationf(format string, args ...any) error {
	return &KindError{Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

// Gateway wraps an exchange call failure.
func Gateway(op string, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: ErrGateway, Op: op, Err: err}
}

// RiskConfig wraps a leverage/margin configuration failure.
func RiskConfig(op string, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: ErrRiskConfig, Op: op, Err: err}
}

// Durability wraps a state persistence failure.
func Durability(op string, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: ErrStateDurability, Op: op, Err: err}
}

// PositionExistsError rejects an open when a same-side position is held and
// pyramiding is off.
type PositionExistsError struct {
	Symbol string
	Qty    float64
}

func (e *PositionExistsError) Error() string {
	return fmt.Sprintf("%s: position already open (qty=%v)", e.Symbol, e.Qty)
}

func (e *PositionExistsError) Unwrap() error { return ErrPositionState }

// NoPositionError rejects a close when there is nothing (or the wrong side) to close.
type NoPositionError struct {
	Symbol string
	Qty    float64
	Want   string
}

func (e *NoPositionError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("%s: no open position", e.Symbol)
	}
	return fmt.Sprintf("%s: no %s position to close (qty=%v)", e.Symbol, e.Want, e.Qty)
}

func (e *NoPositionError) Unwrap() error { return ErrPositionState }

// OverExposureError rejects an open when margin utilization is above the limit.
type OverExposureError struct {
	Utilization float64
	Limit       float64
}

func (e *OverExposureError) Error() string {
	return fmt.Sprintf("margin utilization %.2f%% exceeds limit %.2f%%", e.Utilization*100, e.Limit*100)
}

func (e *OverExposureError) Unwrap() error { return ErrRiskConfig }

// IsClientError reports whether err should be answered as a 4xx rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPositionState) ||
		errors.As(err, new(*OverExposureError))
}
