package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/memory"
)

func seedEvent(t *testing.T, repo *memory.EventRepository, id string, seq int64, status cdc.Status) *cdc.EventRecord {
	t.Helper()
	rec := cdc.NewEventRecord(id, cdc.Message{
		MessageID:      "msg-" + id,
		TableName:      "orders",
		Operation:      "INSERT",
		Payload:        `{"id":1}`,
		SequenceNumber: seq,
		PartitionKey:   "orders:1",
		Timestamp:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}, time.Date(2025, 3, 1, 12, 0, int(seq), 0, time.UTC))
	ok, err := repo.CreateIfNotExists(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, ok)

	if status != cdc.StatusProcessing {
		rec.Status = status
		rec.RetryCount = 5
		require.NoError(t, repo.Update(context.Background(), rec))
	}
	return rec
}

func TestGetEvent_ByIDAndMessageID(t *testing.T) {
	repo := memory.NewEventRepository()
	seedEvent(t, repo, "e1", 0, cdc.StatusProcessing)
	uc := NewGetEvent(repo)

	byID, err := uc.Execute(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "msg-e1", byID.MessageID)

	byMessage, err := uc.Execute(context.Background(), "msg-e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", byMessage.ID)

	_, err = uc.Execute(context.Background(), "nope")
	assert.ErrorIs(t, err, cdc.ErrNotFound)

	_, err = uc.Execute(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListEvents_FiltersAndLimits(t *testing.T) {
	repo := memory.NewEventRepository()
	seedEvent(t, repo, "e1", 0, cdc.StatusCompleted)
	seedEvent(t, repo, "e2", 1, cdc.StatusDeadLettered)
	seedEvent(t, repo, "e3", 2, cdc.StatusDeadLettered)
	uc := NewListEvents(repo)

	all, err := uc.Execute(context.Background(), ListEventsParams{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	dead, err := uc.Execute(context.Background(), ListEventsParams{Status: "DeadLettered", Limit: 1})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "e2", dead[0].ID)

	_, err = uc.Execute(context.Background(), ListEventsParams{Status: "Lost"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = uc.Execute(context.Background(), ListEventsParams{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRequeueEvent(t *testing.T) {
	repo := memory.NewEventRepository()
	seedEvent(t, repo, "dead", 0, cdc.StatusDeadLettered)
	seedEvent(t, repo, "done", 1, cdc.StatusCompleted)
	uc := NewRequeueEvent(repo, nil)

	dto, err := uc.Execute(context.Background(), "dead")
	require.NoError(t, err)
	assert.Equal(t, cdc.StatusFailed, dto.Status)
	assert.Zero(t, dto.RetryCount)

	stored, err := repo.GetByID(context.Background(), "dead")
	require.NoError(t, err)
	assert.Equal(t, cdc.StatusFailed, stored.Status)

	retryable, err := repo.FetchRetryable(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "dead", retryable[0].ID)

	_, err = uc.Execute(context.Background(), "done")
	assert.ErrorIs(t, err, cdc.ErrInvalidTransition)

	_, err = uc.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, cdc.ErrNotFound)
}

type recordingInvalidator struct {
	tables []string
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, table string) error {
	r.tables = append(r.tables, table)
	return r.err
}

func TestUpsertRoute(t *testing.T) {
	repo := memory.NewRoutingRepository()
	cache := &recordingInvalidator{}
	uc := NewUpsertRoute(repo, cache, nil)

	created, err := uc.Execute(context.Background(), UpsertRouteParams{
		TableName: "orders", Exchange: "cdc.orders", RoutingKey: "orders.changed",
	})
	require.NoError(t, err)
	assert.True(t, created.IsActive)
	assert.NotEmpty(t, created.ID)

	inactive := false
	updated, err := uc.Execute(context.Background(), UpsertRouteParams{
		TableName: "orders", Exchange: "cdc.orders.v2", IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, []string{"orders", "orders"}, cache.tables)

	_, err = repo.GetActive(context.Background(), "orders")
	assert.ErrorIs(t, err, cdc.ErrNotFound)

	_, err = uc.Execute(context.Background(), UpsertRouteParams{TableName: "orders"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpsertRoute_InvalidateFailureIsNotFatal(t *testing.T) {
	repo := memory.NewRoutingRepository()
	uc := NewUpsertRoute(repo, &recordingInvalidator{err: errors.New("redis down")}, nil)

	_, err := uc.Execute(context.Background(), UpsertRouteParams{TableName: "users", Exchange: "cdc.users"})
	require.NoError(t, err)

	routes, err := NewListRoutes(repo).Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "users", routes[0].TableName)
}

func TestListRoutes_EmptyIsNotNil(t *testing.T) {
	routes, err := NewListRoutes(memory.NewRoutingRepository()).Execute(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, routes)
	assert.Equal(t, []*routing.Configuration{}, routes)
}
