package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// EventsHandler serves the durable lifecycle event stream.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// eventEntry is the JSON view of one stream message. Payloads are already
// JSON, so they are embedded verbatim.
type eventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents reads lifecycle events from the stream, oldest first, starting
// after the given stream ID.
// GET /api/events?after=0&limit=50
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotImplemented, "event stream not configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)

	msgs, err := h.bus.StreamRead(r.Context(), domain.LifecycleStream, after, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	out := make([]eventEntry, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, eventEntry{ID: msg.ID, Event: json.RawMessage(msg.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"total":  len(out),
	})
}
