package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// EventHandler replays stored bet events and lists the audit log.
type EventHandler struct {
	bus    domain.SignalBus
	stream string
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. bus or audit may be nil, in
// which case the matching endpoint answers 404.
func NewEventHandler(bus domain.SignalBus, stream string, audit domain.AuditStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{bus: bus, stream: stream, audit: audit, logger: logger}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns events stored after the given stream id.
// GET /api/events?after=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	limit, _ := page(r)
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEvent{ID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	next := after
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?since=RFC3339&limit=50&offset=0
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	var opts domain.ListOpts
	opts.Limit, opts.Offset = page(r)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		opts.Since = &t
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
