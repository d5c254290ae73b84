package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/memory"
)

func TestIdempotency_RejectsRepeatedKey(t *testing.T) {
	calls := 0
	h := Idempotency(memory.NewStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events/1/requeue", nil)
		req.Header.Set(HeaderKey, "k1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	assert.Equal(t, http.StatusAccepted, first.Code)

	second := send()
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderHit))
	assert.Contains(t, second.Body.String(), "completed")
	assert.Equal(t, 1, calls)
}

func TestIdempotency_FailedRequestReleasesKey(t *testing.T) {
	status := http.StatusInternalServerError
	calls := 0
	h := Idempotency(memory.NewStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/events/1/requeue", nil)
		req.Header.Set(HeaderKey, "k1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusInternalServerError, send())
	status = http.StatusAccepted
	assert.Equal(t, http.StatusAccepted, send())
	assert.Equal(t, 2, calls)
}

func TestIdempotency_InProgressKeyConflicts(t *testing.T) {
	store := memory.NewStore()
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A second request with the same key arrives while this one runs.
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderKey, "k1")
		rr := httptest.NewRecorder()
		Idempotency(store, nil)(http.NotFoundHandler()).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusConflict, rr.Code)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderKey, "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestIdempotency_PassThrough(t *testing.T) {
	calls := 0
	h := Idempotency(memory.NewStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 2; i++ {
		get := httptest.NewRequest(http.MethodGet, "/events", nil)
		get.Header.Set(HeaderKey, "k1")
		h.ServeHTTP(httptest.NewRecorder(), get)

		noKey := httptest.NewRequest(http.MethodPost, "/events/1/requeue", nil)
		h.ServeHTTP(httptest.NewRecorder(), noKey)
	}
	assert.Equal(t, 4, calls)
}
