package precision

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-core/pkg/cache"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// Source tells where a Precision came from.
type Source string

const (
	SourceExchange  Source = "exchange"
	SourceHeuristic Source = "heuristic"
)

// DefaultMaxPriceDecimals caps heuristic price decimals.
const DefaultMaxPriceDecimals = 4

// Precision is how many fractional digits the exchange accepts for a symbol.
type Precision struct {
	QuantityDecimals int
	PriceDecimals    int
	Source           Source
}

// FilterSource provides exchange instrument filters. common.Gateway satisfies it.
type FilterSource interface {
	GetInstrumentFilters(ctx context.Context, symbol string) (common.InstrumentFilters, error)
}

// Config tunes the price-digit heuristic.
type Config struct {
	MaxPriceDecimals int
	// TwoDigitQuantityDecimals is the quantity precision for prices quoted
	// with exactly two decimals. 2 by default; 1 reproduces the legacy table.
	TwoDigitQuantityDecimals int
	// Overrides pin quantity decimals for specific symbols.
	Overrides map[string]int
}

// DefaultConfig returns the heuristic defaults with BTCUSDT pinned to 3 decimals.
func DefaultConfig() Config {
	return Config{
		MaxPriceDecimals:         DefaultMaxPriceDecimals,
		TwoDigitQuantityDecimals: 2,
		Overrides:                map[string]int{"BTCUSDT": 3},
	}
}

// Resolver prefers exchange metadata and falls back to the heuristic.
type Resolver struct {
	cfg     Config
	filters FilterSource
	cache   *cache.Sharded[Precision]
	log     *logrus.Entry
}

// NewResolver creates a resolver. filters may be nil to run heuristic-only.
func NewResolver(cfg Config, filters FilterSource, log *logger.Logger) *Resolver {
	if cfg.MaxPriceDecimals <= 0 {
		cfg.MaxPriceDecimals = DefaultMaxPriceDecimals
	}
	return &Resolver{
		cfg:     cfg,
		filters: filters,
		cache:   cache.NewSharded[Precision](),
		log:     log.WithComponent("precision"),
	}
}

// Resolve returns the precision for symbol. Exchange-derived results are
// cached for the life of the process; heuristic results are recomputed per call.
func (r *Resolver) Resolve(ctx context.Context, symbol, priceText string) Precision {
	if p, ok := r.cache.Get(symbol); ok {
		return p
	}
	if r.filters != nil {
		f, err := r.filters.GetInstrumentFilters(ctx, symbol)
		if err == nil {
			p, perr := FromFilters(f)
			if perr == nil {
				r.cache.Set(symbol, p)
				return p
			}
			err = perr
		}
		r.log.WithError(err).WithField("symbol", symbol).Warn("instrument filters unavailable, using price-digit heuristic")
	}
	return Heuristic(r.cfg, symbol, priceText)
}

// FromFilters derives decimals from tick and step sizes.
func FromFilters(f common.InstrumentFilters) (Precision, error) {
	if f.TickSize == "" || f.StepSize == "" {
		return Precision{}, fmt.Errorf("%s: incomplete filters tick=%q step=%q", f.Symbol, f.TickSize, f.StepSize)
	}
	price, err := stepDecimals(f.TickSize)
	if err != nil {
		return Precision{}, err
	}
	qty, err := stepDecimals(f.StepSize)
	if err != nil {
		return Precision{}, err
	}
	return Precision{QuantityDecimals: qty, PriceDecimals: price, Source: SourceExchange}, nil
}

// Heuristic derives precision from how the reference price was written.
func Heuristic(cfg Config, symbol, priceText string) Precision {
	d := FractionDigits(priceText)

	var qty int
	switch {
	case d >= 3:
		qty = 0
	case d == 2:
		qty = cfg.TwoDigitQuantityDecimals
	default:
		qty = 2
	}
	if o, ok := cfg.Overrides[symbol]; ok {
		qty = o
	}

	maxPrice := cfg.MaxPriceDecimals
	if maxPrice <= 0 {
		maxPrice = DefaultMaxPriceDecimals
	}
	return Precision{QuantityDecimals: qty, PriceDecimals: min(d, maxPrice), Source: SourceHeuristic}
}

// FractionDigits counts the digits after the decimal point as written,
// trailing zeros included ("57.20" → 2). Unparsable input counts 0.
func FractionDigits(text string) int {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return 0
	}
	if exp := d.Exponent(); exp < 0 {
		return int(-exp)
	}
	return 0
}

// stepDecimals counts significant fractional digits of a step ("0.00100000" → 3).
func stepDecimals(step string) (int, error) {
	d, err := decimal.NewFromString(step)
	if err != nil {
		return 0, fmt.Errorf("parse step %q: %w", step, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("non-positive step %q", step)
	}
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1, nil
	}
	return 0, nil
}

// RoundQuantity formats qty with decimals fractional digits, rounding half away from zero.
func RoundQuantity(qty float64, decimals int) string {
	return decimal.NewFromFloat(qty).Round(int32(decimals)).StringFixed(int32(decimals))
}

// RoundPrice formats price with decimals fractional digits, rounding half away from zero.
func RoundPrice(price float64, decimals int) string {
	return decimal.NewFromFloat(price).Round(int32(decimals)).StringFixed(int32(decimals))
}
