package state

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postgresKV connects to POSTGRES_TEST_DSN and returns a store confined to a
// fresh key prefix, or nil when no test database is configured.
func postgresKV(t *testing.T) KV {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		return nil
	}
	kv, err := NewPostgresKV(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return Namespaced{KV: kv, Prefix: "test-" + uuid.NewString()}
}

func TestPostgresKVUpsert(t *testing.T) {
	kv := postgresKV(t)
	if kv == nil {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "three:ETHUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "three:ETHUSDT", []byte(`{"flags":{"long":"buy"}}`)))
	require.NoError(t, kv.Put(ctx, "three:ETHUSDT", []byte(`{"flags":{"long":"sell"}}`)))

	got, ok, err := kv.Get(ctx, "three:ETHUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"flags":{"long":"sell"}}`, string(got))
}

func TestNewPostgresKVBadDSN(t *testing.T) {
	_, err := NewPostgresKV(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
