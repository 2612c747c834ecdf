package bundler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// relayStub is a minimal JSON-RPC relay. Status answers are served from the
// statuses queue, one per getBundleStatuses call, sticking on the last entry.
type relayStub struct {
	t        *testing.T
	bundleID string
	statuses []string
	calls    int
}

func (r *relayStub) handler(w http.ResponseWriter, req *http.Request) {
	var rpc struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	require.NoError(r.t, json.NewDecoder(req.Body).Decode(&rpc))

	switch rpc.Method {
	case "sendBundle":
		writeResult(w, r.bundleID)
	case "getBundleStatuses":
		idx := r.calls
		if idx >= len(r.statuses) {
			idx = len(r.statuses) - 1
		}
		r.calls++
		writeResult(w, map[string]any{
			"value": []map[string]any{
				{"bundle_id": r.bundleID, "status": r.statuses[idx], "slot": 1234},
			},
		})
	default:
		r.t.Errorf("unexpected method %q", rpc.Method)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  result,
	})
}

func TestClient_Submit(t *testing.T) {
	stub := &relayStub{t: t, bundleID: "bundle-1"}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	id, err := c.Submit(context.Background(), []domain.Tx{{Kind: "vault_init", Data: []byte("tx")}})
	require.NoError(t, err)
	assert.Equal(t, domain.BundleID("bundle-1"), id)
}

func TestClient_SubmitEmptyBundle(t *testing.T) {
	c := NewClient("http://localhost:0", time.Second)
	_, err := c.Submit(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_AwaitLanded(t *testing.T) {
	stub := &relayStub{t: t, bundleID: "bundle-1", statuses: []string{"landed"}}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	status, err := c.AwaitLanded(context.Background(), "bundle-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, status.Landed)
	assert.Equal(t, uint64(1234), status.Slot)
}

func TestClient_AwaitDropped(t *testing.T) {
	stub := &relayStub{t: t, bundleID: "bundle-1", statuses: []string{"dropped"}}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	status, err := c.AwaitLanded(context.Background(), "bundle-1", 5*time.Second)
	require.NoError(t, err, "a dropped bundle is an unwind signal, not a transport error")
	assert.False(t, status.Landed)
}

func TestClient_AwaitTimeout(t *testing.T) {
	stub := &relayStub{t: t, bundleID: "bundle-1", statuses: []string{"pending"}}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	status, err := c.AwaitLanded(context.Background(), "bundle-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, status.Landed)
}

func TestClient_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "bundle too large"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	_, err := c.Submit(context.Background(), []domain.Tx{{Kind: "vault_init"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle too large")
}
