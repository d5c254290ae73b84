// Package api is the operator HTTP surface of the relay.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Fatonxhema/cdc-relay/internal/api/middleware"
	"github.com/Fatonxhema/cdc-relay/internal/kv"
)

func NewRouter(h *Handlers, store kv.Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.With(middleware.Idempotency(store, logger)).Post("/{id}/requeue", h.RequeueEvent)
	})

	r.Route("/routes", func(r chi.Router) {
		r.Get("/", h.ListRoutes)
		r.Put("/{table}", h.UpsertRoute)
	})

	logger.Info("registered routes",
		"routes", []string{"GET /health", "GET /metrics", "GET /events", "GET /events/{id}",
			"POST /events/{id}/requeue (idempotent)", "GET /routes", "PUT /routes/{table}"})

	return r
}
