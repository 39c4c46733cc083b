package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS strategy_states (
	state_key  TEXT PRIMARY KEY,
	state_data BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKV stores values in a Postgres strategy_states table.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV connects to dsn and makes sure the table exists.
func NewPostgresKV(ctx context.Context, dsn string) (*PostgresKV, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres kv: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres kv: schema: %w", err)
	}
	return &PostgresKV{pool: pool}, nil
}

func (k *PostgresKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := k.pool.QueryRow(ctx, `SELECT state_data FROM strategy_states WHERE state_key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres kv: get %s: %w", key, err)
	}
	return data, true, nil
}

func (k *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := k.pool.Exec(ctx, `
		INSERT INTO strategy_states (state_key, state_data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (state_key) DO UPDATE SET state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("postgres kv: put %s: %w", key, err)
	}
	return nil
}

func (k *PostgresKV) Close() {
	k.pool.Close()
}
