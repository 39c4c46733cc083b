package state

import (
	"context"
	"errors"

	"signal-core/pkg/db"
)

// KV is a whole-value key/value store. Values are opaque bytes and every Put
// replaces the previous value for the key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// SQLiteKV stores values in the strategy_states table.
type SQLiteKV struct {
	db *db.Database
}

func NewSQLiteKV(database *db.Database) *SQLiteKV {
	return &SQLiteKV{db: database}
}

func (k *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := k.db.GetState(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (k *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	return k.db.PutState(ctx, key, value)
}

// Namespaced prefixes every key so several accounts can share one backend.
type Namespaced struct {
	KV     KV
	Prefix string
}

func (n Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.KV.Get(ctx, n.Prefix+":"+key)
}

func (n Namespaced) Put(ctx context.Context, key string, value []byte) error {
	return n.KV.Put(ctx, n.Prefix+":"+key, value)
}
