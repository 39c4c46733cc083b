package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/events"
	"signal-core/internal/signal"
	"signal-core/pkg/db"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	kvs := map[string]KV{
		"sqlite": NewSQLiteKV(database),
		"file":   NewFileKV(filepath.Join(t.TempDir(), "state", "strategy.json")),
	}
	if pg := postgresKV(t); pg != nil {
		kvs["postgres"] = pg
	}
	return kvs
}

func TestReadDefaultsToNeutral(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st, err := NewStore(kv, nil).Read(context.Background(), "three", "ETHUSDT")
			require.NoError(t, err)
			assert.NotNil(t, st.Flags)
			assert.Equal(t, Neutral, st.Flag("long"))
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(kv, nil)
			ctx := context.Background()
			want := StrategyState{}.With("long", Buy).With("medium", Buy).With("short", Sell)

			require.NoError(t, store.Write(ctx, "three", "ETHUSDT", want))
			got, err := store.Read(ctx, "three", "ETHUSDT")
			require.NoError(t, err)
			assert.Equal(t, want.Flags, got.Flags)
			assert.False(t, got.UpdatedAt.IsZero())

			// full overwrite: a dropped flag does not survive
			require.NoError(t, store.Write(ctx, "three", "ETHUSDT", StrategyState{}.With("long", Sell)))
			got, err = store.Read(ctx, "three", "ETHUSDT")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"long": Sell}, got.Flags)

			other, err := store.Read(ctx, "two", "ETHUSDT")
			require.NoError(t, err)
			assert.Empty(t, other.Flags)
		})
	}
}

func TestFileKVKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.json")
	kv := NewFileKV(path)
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "a", []byte(`{"x":1}`)))
	require.NoError(t, kv.Put(ctx, "b", []byte(`{"y":2}`)))

	v, ok, err := NewFileKV(path).Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(v))

	assert.Error(t, kv.Put(ctx, "c", []byte("not json")))

	matches, _ := filepath.Glob(path + ".*.tmp")
	assert.Empty(t, matches, "temp files left behind")
}

func TestFileKVCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := NewStore(NewFileKV(path), nil).Read(context.Background(), "two", "BTCUSDT")
	assert.ErrorIs(t, err, signal.ErrStateDurability)
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (f failingKV) Put(context.Context, string, []byte) error         { return f.err }

func TestWriteFailureIsDurabilityError(t *testing.T) {
	store := NewStore(failingKV{err: errors.New("disk full")}, nil)
	err := store.Write(context.Background(), "two", "BTCUSDT", StrategyState{}.With("major", Buy))
	assert.ErrorIs(t, err, signal.ErrStateDurability)
}

func TestWritePublishesChange(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventStateChanged, 1)
	defer unsub()

	store := NewStore(backends(t)["sqlite"], bus)
	require.NoError(t, store.Write(context.Background(), "two", "BTCUSDT", StrategyState{}.With("major", Buy)))

	msg := (<-ch).(events.StateChange)
	assert.Equal(t, "BTCUSDT", msg.Symbol)
	assert.Equal(t, Buy, msg.Flags["major"])
}

func TestNamespacedStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	shared := backends(t)["sqlite"]
	a := NewStore(Namespaced{KV: shared, Prefix: "alpha"}, nil)
	b := NewStore(Namespaced{KV: shared, Prefix: "beta"}, nil)

	require.NoError(t, a.Write(ctx, "two", "ETHUSDT", StrategyState{}.With("major", Sell)))

	got, err := b.Read(ctx, "two", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, Neutral, got.Flag("major"))

	got, err = a.Read(ctx, "two", "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, Sell, got.Flag("major"))
}
