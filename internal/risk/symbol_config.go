package risk

import (
	"context"

	"signal-core/pkg/cache"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/common"
)

// SymbolConfig is the leverage and margin mode last applied to a symbol.
type SymbolConfig struct {
	Leverage   int
	MarginMode common.MarginType
}

// SymbolConfigCache remembers what the exchange already holds per symbol so
// unchanged settings are not re-sent. With a database it survives restarts.
type SymbolConfigCache struct {
	account string
	items   *cache.Sharded[SymbolConfig]
	db      *db.Database
}

// NewSymbolConfigCache creates a cache for one account. database may be nil.
func NewSymbolConfigCache(account string, database *db.Database) *SymbolConfigCache {
	return &SymbolConfigCache{
		account: account,
		items:   cache.NewSharded[SymbolConfig](),
		db:      database,
	}
}

// Load seeds the cache from the database on startup.
func (c *SymbolConfigCache) Load(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	rows, err := c.db.ListSymbolRiskConfigs(ctx, c.account)
	if err != nil {
		return err
	}
	for _, r := range rows {
		c.items.Set(r.Symbol, SymbolConfig{Leverage: r.Leverage, MarginMode: common.MarginType(r.MarginMode)})
	}
	return nil
}

// Get returns the cached config; ok is false when nothing was applied yet.
func (c *SymbolConfigCache) Get(symbol string) (SymbolConfig, bool) {
	return c.items.Get(symbol)
}

// Set records a config the exchange accepted.
func (c *SymbolConfigCache) Set(ctx context.Context, symbol string, cfg SymbolConfig) error {
	c.items.Set(symbol, cfg)
	if c.db == nil {
		return nil
	}
	return c.db.UpsertSymbolRiskConfig(ctx, db.SymbolRiskConfig{
		Account:    c.account,
		Symbol:     symbol,
		Leverage:   cfg.Leverage,
		MarginMode: string(cfg.MarginMode),
	})
}

// All returns every cached config.
func (c *SymbolConfigCache) All() map[string]SymbolConfig {
	return c.items.Snapshot()
}
