package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/usecase"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	getEventUC     *usecase.GetEvent
	listEventsUC   *usecase.ListEvents
	requeueEventUC *usecase.RequeueEvent
	listRoutesUC   *usecase.ListRoutes
	upsertRouteUC  *usecase.UpsertRoute
	checks         map[string]Pinger
	logger         *slog.Logger
}

func NewHandlers(
	getEventUC *usecase.GetEvent,
	listEventsUC *usecase.ListEvents,
	requeueEventUC *usecase.RequeueEvent,
	listRoutesUC *usecase.ListRoutes,
	upsertRouteUC *usecase.UpsertRoute,
	checks map[string]Pinger,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		getEventUC:     getEventUC,
		listEventsUC:   listEventsUC,
		requeueEventUC: requeueEventUC,
		listRoutesUC:   listRoutesUC,
		upsertRouteUC:  upsertRouteUC,
		checks:         checks,
		logger:         logger,
	}
}

// Health pings every registered dependency and reports each result.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err)
			report[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, report)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.getEventUC.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, event)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := usecase.ListEventsParams{
		Status:       q.Get("status"),
		PartitionKey: q.Get("partition_key"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		params.Limit = limit
	}

	events, err := h.listEventsUC.Execute(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) RequeueEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.requeueEventUC.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.listRoutesUC.Execute(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (h *Handlers) UpsertRoute(w http.ResponseWriter, r *http.Request) {
	var params usecase.UpsertRouteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	params.TableName = chi.URLParam(r, "table")

	route, err := h.upsertRouteUC.Execute(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, cdc.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, cdc.ErrInvalidTransition), errors.Is(err, cdc.ErrConcurrentUpdate):
		status = http.StatusConflict
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
