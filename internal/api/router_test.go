package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fatonxhema/cdc-relay/internal/api/middleware"
	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/memory"
	routes "github.com/Fatonxhema/cdc-relay/internal/routing"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiFixture struct {
	events   *memory.EventRepository
	routing  *memory.RoutingRepository
	store    *memory.Store
	resolver *routes.Resolver
	handler  http.Handler
}

func newAPIFixture(t *testing.T, checks map[string]Pinger) *apiFixture {
	t.Helper()
	f := &apiFixture{
		events: memory.NewEventRepository(),
		routing: memory.NewRoutingRepository(routing.Configuration{
			TableName: "orders", Exchange: "cdc.orders", RoutingKey: "orders.changed", IsActive: true,
		}),
		store: memory.NewStore(),
	}
	f.resolver = routes.NewResolver(f.routing, f.store, time.Minute, nil)

	h := NewHandlers(
		usecase.NewGetEvent(f.events),
		usecase.NewListEvents(f.events),
		usecase.NewRequeueEvent(f.events, nil),
		usecase.NewListRoutes(f.routing),
		usecase.NewUpsertRoute(f.routing, f.resolver, nil),
		checks,
		nil,
	)
	f.handler = NewRouter(h, f.store, nil)
	return f
}

func (f *apiFixture) seed(t *testing.T, id string, status cdc.Status) {
	t.Helper()
	rec := cdc.NewEventRecord(id, cdc.Message{
		MessageID: "msg-" + id, TableName: "orders", Operation: "UPDATE",
		Payload: `{"id":7}`, SequenceNumber: 3, PartitionKey: "orders:7",
		Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, time.Now().UTC())
	_, err := f.events.CreateIfNotExists(context.Background(), rec)
	require.NoError(t, err)
	rec.Status = status
	rec.RetryCount = 5
	require.NoError(t, f.events.Update(context.Background(), rec))
}

func (f *apiFixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return nil }),
	})
	rr := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"postgres":"ok","redis":"ok"}`, rr.Body.String())

	f = newAPIFixture(t, map[string]Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rr = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"redis":"connection refused"}`, rr.Body.String())
}

func TestGetEvent(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, "e1", cdc.StatusCompleted)

	rr := f.do(http.MethodGet, "/events/e1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var dto usecase.EventDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dto))
	assert.Equal(t, "msg-e1", dto.MessageID)
	assert.Equal(t, cdc.StatusCompleted, dto.Status)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/events/missing", "").Code)
}

func TestListEvents(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, "e1", cdc.StatusCompleted)
	f.seed(t, "e2", cdc.StatusDeadLettered)

	rr := f.do(http.MethodGet, "/events?status=DeadLettered&limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []usecase.EventDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "e2", list[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/events?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/events?status=Unknown", "").Code)
}

func TestRequeueEvent(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.seed(t, "dead", cdc.StatusDeadLettered)
	f.seed(t, "done", cdc.StatusCompleted)

	rr := f.do(http.MethodPost, "/events/dead/requeue", "", middleware.HeaderKey, "op-1")
	require.Equal(t, http.StatusAccepted, rr.Code)
	stored, err := f.events.GetByID(context.Background(), "dead")
	require.NoError(t, err)
	assert.Equal(t, cdc.StatusFailed, stored.Status)
	assert.Zero(t, stored.RetryCount)

	replay := f.do(http.MethodPost, "/events/dead/requeue", "", middleware.HeaderKey, "op-1")
	assert.Equal(t, http.StatusConflict, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(middleware.HeaderHit))

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/events/done/requeue", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/events/missing/requeue", "").Code)
}

func TestRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)

	// Warm the cache so the upsert must invalidate it.
	cached, err := f.resolver.Resolve(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "cdc.orders", cached.Exchange)

	rr := f.do(http.MethodPut, "/routes/orders", `{"exchange":"cdc.orders.v2","routing_key":"orders.v2"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	resolved, err := f.resolver.Resolve(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "cdc.orders.v2", resolved.Exchange)

	rr = f.do(http.MethodGet, "/routes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []routing.Configuration
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "orders.v2", list[0].RoutingKey)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/routes/orders", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/routes/orders", `{"routing_key":"x"}`).Code)
}
