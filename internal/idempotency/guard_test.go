package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/memory"
)

func TestGuard_MarkThenProcessed(t *testing.T) {
	ctx := context.Background()
	g := New(memory.NewStore(), 0)

	done, err := g.IsProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, g.MarkProcessed(ctx, "m-1", 0))

	done, err = g.IsProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = g.IsProcessed(ctx, "m-2")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestGuard_MarkExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStoreWithClock(func() time.Time { return now })
	g := New(store, 0)

	require.NoError(t, g.MarkProcessed(ctx, "m-1", 0))

	now = now.Add(DefaultTTL - time.Second)
	done, err := g.IsProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, done)

	now = now.Add(2 * time.Second)
	done, err = g.IsProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestGuard_Forget(t *testing.T) {
	ctx := context.Background()
	g := New(memory.NewStore(), time.Hour)

	require.NoError(t, g.MarkProcessed(ctx, "m-1", 0))
	require.NoError(t, g.Forget(ctx, "m-1"))

	done, err := g.IsProcessed(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, done)
}

type brokenStore struct{ *memory.Store }

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestGuard_StoreFailureIsTransient(t *testing.T) {
	g := New(brokenStore{memory.NewStore()}, 0)

	_, err := g.IsProcessed(context.Background(), "m-1")
	require.Error(t, err)
	assert.True(t, cdc.IsTransient(err))
}
