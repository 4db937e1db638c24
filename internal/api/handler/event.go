package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iconidentify/mediagrab/internal/domain"
)

// EventQuerier reads the activity log.
type EventQuerier interface {
	Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
}

// EventHandler serves the activity log.
type EventHandler struct {
	events EventQuerier
	logger *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events EventQuerier, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// EventListResponse is one page of the activity log.
type EventListResponse struct {
	Events     []domain.Event `json:"events"`
	Total      int            `json:"total"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
	HasMore    bool           `json:"has_more"`
	Historical bool           `json:"historical"`
}

// List handles GET /api/events.
//
// Query parameters: severity (info, warning, error, success), category
// (resolve, download, system), source, limit (default 50, max 200), offset,
// and historical=true to read the SQLite log instead of the in-memory buffer.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.EventQuery{
		Limit:  intParam(q, "limit", 0),
		Offset: intParam(q, "offset", 0),
		Filter: domain.EventFilter{Source: q.Get("source")},
	}
	if v := q.Get("severity"); v != "" {
		sev := domain.EventSeverity(v)
		query.Filter.Severity = &sev
	}
	if v := q.Get("category"); v != "" {
		cat := domain.EventCategory(v)
		query.Filter.Category = &cat
	}
	if err := query.Filter.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event filter", err.Error())
		return
	}
	query = query.Normalized()

	historical := q.Get("historical") == "true"
	read := h.events.Query
	if historical {
		read = h.events.QueryHistorical
	}
	result, err := read(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to query events", "historical", historical, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query events", "")
		return
	}

	events := result.Events
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:     events,
		Total:      result.Total,
		Limit:      query.Limit,
		Offset:     query.Offset,
		HasMore:    result.HasMore,
		Historical: historical,
	})
}

// intParam parses a non-negative integer query parameter, falling back to def.
func intParam(q url.Values, name string, def int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < 0 {
		return def
	}
	return n
}
