package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// memBus is an in-memory SignalBus with numeric stream IDs.
type memBus struct {
	streams map[string][]domain.StreamMessage
}

func newMemBus() *memBus {
	return &memBus{streams: make(map[string][]domain.StreamMessage)}
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *memBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		id, _ := strconv.Atoi(msg.ID)
		if id > after {
			out = append(out, msg)
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func eventsGet(t *testing.T, h *EventsHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", h.ListEvents)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListEvents_NotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewEventsHandler(nil, logger)

	rec := eventsGet(t, h, "/api/events")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListEvents_ReadsStream(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := newMemBus()
	ctx := context.Background()
	for _, event := range []string{"initialized", "finalized", "executed"} {
		payload, err := json.Marshal(map[string]any{"event": event, "proposal_id": 7})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.LifecycleStream, payload))
	}
	h := NewEventsHandler(bus, logger)

	rec := eventsGet(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Events []struct {
			ID    string          `json:"id"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	assert.Equal(t, "1", body.Events[0].ID)
	assert.JSONEq(t, `{"event":"initialized","proposal_id":7}`, string(body.Events[0].Event))

	// Resuming after a stream ID skips everything up to and including it.
	rec = eventsGet(t, h, "/api/events?after=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "3", body.Events[0].ID)

	rec = eventsGet(t, h, "/api/events?limit=2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
}
