package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("db: not found")

// GetState returns the raw strategy state blob for key.
func (d *Database) GetState(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := d.DB.QueryRowContext(ctx, `SELECT state_data FROM strategy_states WHERE state_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// PutState overwrites the strategy state blob for key.
func (d *Database) PutState(ctx context.Context, key string, data []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_states (state_key, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(state_key) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, key, data)
	return err
}

// ListSymbolRiskConfigs loads every cached symbol config for an account.
func (d *Database) ListSymbolRiskConfigs(ctx context.Context, account string) ([]SymbolRiskConfig, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT account, symbol, leverage, margin_mode
		FROM symbol_risk_configs WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SymbolRiskConfig
	for rows.Next() {
		var c SymbolRiskConfig
		if err := rows.Scan(&c.Account, &c.Symbol, &c.Leverage, &c.MarginMode); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertSymbolRiskConfig stores the config the exchange last accepted.
func (d *Database) UpsertSymbolRiskConfig(ctx context.Context, c SymbolRiskConfig) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO symbol_risk_configs (account, symbol, leverage, margin_mode, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account, symbol) DO UPDATE SET
			leverage = excluded.leverage,
			margin_mode = excluded.margin_mode,
			updated_at = CURRENT_TIMESTAMP
	`, c.Account, c.Symbol, c.Leverage, c.MarginMode)
	return err
}

// InsertOrder journals one submission attempt.
func (d *Database) InsertOrder(ctx context.Context, o OrderRecord) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signal_orders
			(client_id, signal_id, account, symbol, side, type, qty, price, stop_price, exchange_order_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ClientID, o.SignalID, o.Account, o.Symbol, o.Side, o.Type, o.Qty, o.Price, o.StopPrice,
		o.ExchangeOrderID, o.Status, o.Error, o.CreatedAt)
	return err
}

// ListOrders returns the most recent journaled orders for a symbol, newest first.
func (d *Database) ListOrders(ctx context.Context, account, symbol string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT client_id, COALESCE(signal_id, ''), account, symbol, side, type, qty, price, stop_price,
			COALESCE(exchange_order_id, ''), status, COALESCE(error, ''), created_at
		FROM signal_orders
		WHERE account = ? AND symbol = ?
		ORDER BY rowid DESC
		LIMIT ?`, account, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ClientID, &o.SignalID, &o.Account, &o.Symbol, &o.Side, &o.Type, &o.Qty,
			&o.Price, &o.StopPrice, &o.ExchangeOrderID, &o.Status, &o.Error, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetProcessedSignal looks up a previously handled signal id.
func (d *Database) GetProcessedSignal(ctx context.Context, account, signalID string) (ProcessedSignal, error) {
	p := ProcessedSignal{Account: account, SignalID: signalID}
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, result FROM processed_signals WHERE account = ? AND signal_id = ?`,
		account, signalID).Scan(&p.Symbol, &p.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedSignal{}, ErrNotFound
	}
	return p, err
}

// MarkSignalProcessed records the outcome of a signal id; the first write wins.
func (d *Database) MarkSignalProcessed(ctx context.Context, p ProcessedSignal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO processed_signals (account, signal_id, symbol, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, signal_id) DO NOTHING
	`, p.Account, p.SignalID, p.Symbol, p.Result)
	return err
}
