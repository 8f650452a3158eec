package redisstore

import (
	"context"
	"testing"

	"portfolioledger/internal/ledger/ledgertest"
	"portfolioledger/pkg/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	store := New(redis.NewClient(&redis.Options{Addr: s.Addr()}), "test:")
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

// go test -v --run TestRedisRoundTrip
func TestRedisRoundTrip(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "alice")
	require.ErrorIs(t, err, storage.ErrNotFound)

	want := ledgertest.Sample(t, "alice")
	require.NoError(t, store.Save(ctx, "alice", want))
	require.NoError(t, store.Save(ctx, "bob", ledgertest.Sample(t, "bob")))
	assert.True(t, s.Exists("test:alice"))

	got, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	ledgertest.AssertEqual(t, want, got)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)
}

// go test -v --run TestRedisCorruptRecord
func TestRedisCorruptRecord(t *testing.T) {
	store, s := newTestStore(t)
	require.NoError(t, s.Set("test:carol", "{broken"))

	_, err := store.Load(context.Background(), "carol")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

// go test -v --run TestRedisUnavailable
func TestRedisUnavailable(t *testing.T) {
	store, s := newTestStore(t)
	s.Close()

	err := store.Save(context.Background(), "alice", ledgertest.Sample(t, "alice"))
	assert.Error(t, err)
}

// go test -v --run TestRedisDial
func TestRedisDial(t *testing.T) {
	s := miniredis.RunT(t)

	store, err := Dial(context.Background(), s.Addr(), "", 0, "")
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, DefaultPrefix+"x", store.key("x"))

	_, err = Dial(context.Background(), "127.0.0.1:1", "", 0, "")
	assert.Error(t, err)
}
