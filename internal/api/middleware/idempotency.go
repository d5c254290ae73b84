package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Fatonxhema/cdc-relay/internal/kv"
)

const (
	HeaderKey = "Idempotency-Key"
	HeaderHit = "X-Idempotency-Hit"

	inProgressTTL = 10 * time.Second
	completedTTL  = 24 * time.Hour
)

// Idempotency rejects a repeated state-changing request carrying the same
// Idempotency-Key. Requests without the header pass through.
func Idempotency(store kv.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to state-changing methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:%s:%s", r.Method, key)
			ctx := r.Context()

			val, ok, err := store.Get(ctx, idemKey)
			if err != nil {
				logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderHit, "true")
				w.WriteHeader(http.StatusConflict)
				fmt.Fprintf(w, `{"error":"request already processed","status":%q}`, val)
				return
			}

			acquired, err := store.SetNX(ctx, idemKey, "processing", inProgressTTL)
			if err != nil || !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"concurrent request"}`))
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Failed requests may be retried with the same key.
			if rec.status >= http.StatusBadRequest {
				if err := store.Delete(ctx, idemKey); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
				}
				return
			}
			if err := store.Set(ctx, idemKey, "completed", completedTTL); err != nil {
				logger.WarnContext(ctx, "failed to store idempotency key", "error", err)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
