package risk

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"signal-core/internal/signal"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// Defaults applied when an intent leaves a limit unset.
const (
	DefaultMaxMarginUtilization = 0.4
	DefaultPositionMargin       = 5.0
)

// Gateway is the slice of the exchange the governor touches.
type Gateway interface {
	GetAccountSnapshot(ctx context.Context) (common.AccountSnapshot, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType common.MarginType) error
	ChangePositionMargin(ctx context.Context, symbol string, amount float64, mType int) error
}

// Config holds governor defaults.
type Config struct {
	MaxMarginUtilization  float64
	DefaultPositionMargin float64
	// Defaults apply per symbol when an intent names no leverage or margin mode.
	Defaults map[string]SymbolConfig
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxMarginUtilization:  DefaultMaxMarginUtilization,
		DefaultPositionMargin: DefaultPositionMargin,
	}
}

// Governor gates opening intents on margin utilization and applies
// per-symbol leverage and margin mode.
type Governor struct {
	cfg   Config
	gw    Gateway
	cache *SymbolConfigCache
	log   *logrus.Entry
}

// NewGovernor creates a governor over gw using cache for symbol settings.
func NewGovernor(cfg Config, gw Gateway, cache *SymbolConfigCache, log *logger.Logger) *Governor {
	if cfg.MaxMarginUtilization <= 0 {
		cfg.MaxMarginUtilization = DefaultMaxMarginUtilization
	}
	if cfg.DefaultPositionMargin <= 0 {
		cfg.DefaultPositionMargin = DefaultPositionMargin
	}
	return &Governor{cfg: cfg, gw: gw, cache: cache, log: log.WithComponent("risk")}
}

// Utilization is (total - available) / total.
func Utilization(s common.AccountSnapshot) float64 {
	if s.TotalBalance <= 0 {
		return 1
	}
	return (s.TotalBalance - s.AvailableBalance) / s.TotalBalance
}

// CheckExposure rejects the intent when margin in use is above its limit.
// It runs before any exchange mutation.
func (g *Governor) CheckExposure(ctx context.Context, in signal.Intent) error {
	snap, err := g.gw.GetAccountSnapshot(ctx)
	if err != nil {
		return signal.Gateway("account snapshot", err)
	}
	limit := in.Flags.MaxMarginUtilization
	if limit <= 0 {
		limit = g.cfg.MaxMarginUtilization
	}
	u := Utilization(snap)
	if snap.TotalBalance <= 0 || u > limit {
		g.log.WithFields(logrus.Fields{
			"symbol":      in.Symbol,
			"utilization": u,
			"limit":       limit,
		}).Warn("risk rejected: over exposure")
		return &signal.OverExposureError{Utilization: u, Limit: limit}
	}
	return nil
}

// Configure brings the symbol's margin mode and leverage in line with the
// intent, calling the exchange only for values that differ from the cache.
// The cache moves only after the exchange accepted the change.
func (g *Governor) Configure(ctx context.Context, in signal.Intent) error {
	cur, _ := g.cache.Get(in.Symbol)
	next := cur
	def := g.cfg.Defaults[in.Symbol]

	mode := in.Flags.MarginMode
	if mode == "" {
		mode = def.MarginMode
	}
	if mode != "" && mode != cur.MarginMode {
		if err := g.gw.SetMarginType(ctx, in.Symbol, mode); err != nil {
			return signal.RiskConfig(fmt.Sprintf("set margin type %s", mode), err)
		}
		next.MarginMode = mode
		if err := g.cache.Set(ctx, in.Symbol, next); err != nil {
			g.log.WithError(err).WithField("symbol", in.Symbol).Warn("persist symbol config failed")
		}
		g.log.WithFields(logrus.Fields{"symbol": in.Symbol, "margin_mode": mode}).Info("margin mode updated")
	}

	lev := in.Flags.Leverage
	if lev <= 0 {
		lev = def.Leverage
	}
	if lev > 0 && lev != cur.Leverage {
		if err := g.gw.SetLeverage(ctx, in.Symbol, lev); err != nil {
			return signal.RiskConfig(fmt.Sprintf("set leverage %d", lev), err)
		}
		next.Leverage = lev
		if err := g.cache.Set(ctx, in.Symbol, next); err != nil {
			g.log.WithError(err).WithField("symbol", in.Symbol).Warn("persist symbol config failed")
		}
		g.log.WithFields(logrus.Fields{"symbol": in.Symbol, "leverage": lev}).Info("leverage updated")
	}
	return nil
}

// TopUpMargin adds isolated margin after an entry. It is a no-op for
// crossed symbols. The returned error does not undo the entry.
func (g *Governor) TopUpMargin(ctx context.Context, in signal.Intent) (float64, error) {
	mode := in.Flags.MarginMode
	if mode == "" {
		cur, _ := g.cache.Get(in.Symbol)
		mode = cur.MarginMode
	}
	if mode == "" {
		mode = g.cfg.Defaults[in.Symbol].MarginMode
	}
	if mode != common.MarginIsolated {
		return 0, nil
	}
	amount := in.Flags.PositionMargin
	if amount <= 0 {
		amount = g.cfg.DefaultPositionMargin
	}
	if err := g.gw.ChangePositionMargin(ctx, in.Symbol, amount, common.MarginAdd); err != nil {
		return 0, signal.RiskConfig("position margin top-up", err)
	}
	g.log.WithFields(logrus.Fields{"symbol": in.Symbol, "amount": amount}).Info("isolated margin topped up")
	return amount, nil
}

// Configs returns the cached per-symbol settings.
func (g *Governor) Configs() map[string]SymbolConfig {
	return g.cache.All()
}
