package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/notify"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/proposal"
	"github.com/futarchlabs/futarchd/internal/sim"
)

// recordingSender captures notification titles for assertions.
type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recorder" }

func (s *recordingSender) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

// harness wires the handlers into a mux using the same route patterns the
// server registers, backed by a moderator with a controllable clock.
type harness struct {
	t    *testing.T
	mux  *http.ServeMux
	mod  *moderator.Moderator
	sent *recordingSender
	now  time.Time
}

func newHarness(t *testing.T) *harness {
	return newHarnessOracle(t, oracle.Config{PassThresholdBps: 10_000})
}

func newHarnessOracle(t *testing.T, oracleCfg oracle.Config) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	params := moderator.Params{
		Authority:    "dao-treasury",
		BaseAsset:    "META",
		QuoteAsset:   "USDC",
		SeedBase:     big.NewInt(1_000_000),
		SeedQuote:    big.NewInt(1_000_000),
		VotingWindow: time.Hour,
		Oracle:       oracleCfg,
	}
	collab := proposal.Collaborators{
		Pools:    sim.NewPoolEngine(),
		Bundles:  sim.NewBundleSubmitter(),
		Executor: sim.NewExecutor(),
		Logger:   logger,
	}
	mod, err := moderator.New(context.Background(), params, collab, nil, logger)
	require.NoError(t, err)
	mod.SetClock(func() time.Time { return h.now })
	h.mod = mod

	h.sent = &recordingSender{}
	notifier := notify.NewNotifier([]notify.Sender{h.sent}, nil, logger)

	proposals := NewProposalHandler(mod, nil, notifier, logger)
	vaults := NewVaultHandler(mod, logger)
	markets := NewMarketHandler(mod, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/proposals", proposals.ListProposals)
	mux.HandleFunc("POST /api/proposals", proposals.CreateProposal)
	mux.HandleFunc("GET /api/proposals/{id}", proposals.GetProposal)
	mux.HandleFunc("POST /api/proposals/{id}/initialize", proposals.InitializeProposal)
	mux.HandleFunc("POST /api/proposals/{id}/finalize", proposals.FinalizeProposal)
	mux.HandleFunc("POST /api/proposals/{id}/execute", proposals.ExecuteProposal)
	mux.HandleFunc("GET /api/proposals/{id}/observations", proposals.ListObservations)
	mux.HandleFunc("GET /api/proposals/{id}/twap", proposals.GetTWAP)
	mux.HandleFunc("GET /api/proposals/{id}/vaults/{leg}", vaults.GetVault)
	mux.HandleFunc("GET /api/proposals/{id}/vaults/{leg}/balance", vaults.GetBalance)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/deposit", vaults.Deposit)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/split", vaults.Split)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/merge", vaults.Merge)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/redeem", vaults.Redeem)
	mux.HandleFunc("GET /api/proposals/{id}/markets", markets.ListMarkets)
	mux.HandleFunc("GET /api/proposals/{id}/prices", markets.GetPrices)
	mux.HandleFunc("POST /api/proposals/{id}/markets/{side}/trade", markets.Trade)
	h.mux = mux
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) decode(rec *httptest.ResponseRecorder) map[string]any {
	h.t.Helper()
	var out map[string]any
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// createProposal registers one proposal through the API and returns its id.
func (h *harness) createProposal(desc string) uint64 {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"description":  desc,
		"payload_kind": "config_update",
		"payload_memo": "fee=30bps",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint64(h.decode(rec)["id"].(float64))
}

func (h *harness) initialize(id uint64) {
	h.t.Helper()
	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/initialize", id), nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

// crank advances the clock and records one oracle observation directly on the
// live proposal, standing in for the background orchestrator.
func (h *harness) crank(id uint64, step time.Duration) {
	h.t.Helper()
	h.now = h.now.Add(step)
	p, err := h.mod.Get(id)
	require.NoError(h.t, err)
	_, recorded, err := p.Crank(context.Background())
	require.NoError(h.t, err)
	require.True(h.t, recorded)
}

func TestCreateProposal(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/proposals", map[string]any{
		"description": "raise protocol fee",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := h.decode(rec)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "uninitialized", body["status"])
	assert.Equal(t, "raise protocol fee", body["description"])
}

func TestCreateProposal_Rejections(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/proposals", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "description is required")

	rec = h.do(http.MethodPost, "/api/proposals", map[string]any{
		"description": "x",
		"surprise":    true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "invalid request body")
}

func TestListProposals(t *testing.T) {
	h := newHarness(t)
	h.createProposal("first")
	h.createProposal("second")

	rec := h.do(http.MethodGet, "/api/proposals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := h.decode(rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["proposals"], 2)
}

func TestGetProposal_Lookup(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("lookup me")

	rec := h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d", id), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/proposals/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/proposals/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitializeProposal(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("init me")

	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/initialize", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", h.decode(rec)["status"])

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/initialize", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVaultEndpoints(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("vault flows")

	// Vaults do not exist before initialization.
	rec := h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/vaults/base", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.initialize(id)

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/vaults/sideways", id), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "leg must be base or quote")

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/vaults/base", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := h.decode(rec)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "META", body["underlying"])
	assert.True(t, strings.HasPrefix(body["conditional_asset"].(string), "cond-"))

	deposit := map[string]any{"user": "alice", "amount": "1000"}
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/base/deposit", id), deposit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	split := map[string]any{"user": "alice", "amount": "400"}
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/base/split", id), split)
	require.Equal(t, http.StatusOK, rec.Code)
	body = h.decode(rec)
	assert.Equal(t, "600", body["regular"])
	assert.Equal(t, "400", body["conditional"])

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/vaults/base/balance?user=alice", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = h.decode(rec)
	assert.Equal(t, "600", body["regular"])
	assert.Equal(t, "400", body["conditional"])

	merge := map[string]any{"user": "alice", "amount": "100"}
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/base/merge", id), merge)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "700", h.decode(rec)["regular"])

	// Overdrawn split is a domain conflict, not a bad request.
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/base/split", id),
		map[string]any{"user": "alice", "amount": "5000"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/base/deposit", id),
		map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "user is required")

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/vaults/base/balance", id), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketEndpoints(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("market flows")

	rec := h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/markets", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.initialize(id)

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/markets", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := h.decode(rec)
	markets := body["markets"].([]any)
	require.Len(t, markets, 2)
	first := markets[0].(map[string]any)
	assert.Equal(t, "pass", first["side"])
	assert.InDelta(t, 1.0, first["price"].(float64), 1e-9)

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/prices", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = h.decode(rec)
	assert.Equal(t, "pool", body["source"])
	assert.InDelta(t, 1.0, body["pass_price"].(float64), 1e-9)
	assert.InDelta(t, 1.0, body["fail_price"].(float64), 1e-9)

	trade := map[string]any{
		"trader":    "alice",
		"direction": "quote_to_base",
		"amount":    "50000",
	}
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/markets/pass/trade", id), trade)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, h.decode(rec)["receipt"])

	// The buy pressure moved the pass price above par.
	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/prices", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = h.decode(rec)
	assert.Greater(t, body["pass_price"].(float64), 1.0)
	assert.InDelta(t, 1.0, body["fail_price"].(float64), 1e-9)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/markets/maybe/trade", id), trade)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "side must be pass or fail")

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/markets/pass/trade", id),
		map[string]any{"trader": "alice", "direction": "up", "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/markets/pass/trade", id),
		map[string]any{"trader": "alice", "direction": "quote_to_base", "amount": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTWAPAndObservations(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("measure me")
	h.initialize(id)

	rec := h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/twap", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "no oracle observations")

	h.crank(id, time.Minute)
	h.crank(id, time.Minute)

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/twap", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := h.decode(rec)
	assert.InDelta(t, 1.0, body["twap_pass"].(float64), 1e-9)
	assert.InDelta(t, 1.0, body["twap_fail"].(float64), 1e-9)
	assert.Equal(t, "passing", body["decision"])

	rec = h.do(http.MethodGet, fmt.Sprintf("/api/proposals/%d/observations", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = h.decode(rec)
	assert.Equal(t, float64(2), body["total"])
}

func TestFinalizeAndExecuteFlow(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("ship it")
	h.initialize(id)

	// Before the deadline finalize is a no-op that reports pending.
	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/finalize", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", h.decode(rec)["status"])

	// Execution before finalization is a conflict.
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/execute", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.crank(id, 20*time.Minute)
	h.crank(id, 20*time.Minute)
	h.now = h.now.Add(time.Hour)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/finalize", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "passed", h.decode(rec)["status"])

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/execute", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := h.decode(rec)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["signature"])

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/execute", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLifecycleNotifications(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("announce me")
	h.initialize(id)

	require.Equal(t, []string{
		fmt.Sprintf("Proposal %d initialized", id),
	}, h.sent.Titles())

	// A failed re-initialization announces the failure.
	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/initialize", id), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, h.sent.Titles(), fmt.Sprintf("Proposal %d initialization failed", id))

	h.crank(id, 20*time.Minute)
	h.crank(id, 20*time.Minute)
	h.now = h.now.Add(time.Hour)

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/finalize", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/execute", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, h.sent.Titles(), fmt.Sprintf("Proposal %d executed", id))
}

func TestFinalizeWithoutObservations(t *testing.T) {
	h := newHarnessOracle(t, oracle.Config{
		StartDelay:       3 * time.Hour,
		PassThresholdBps: 10_000,
	})
	id := h.createProposal("no data")
	h.initialize(id)
	h.now = h.now.Add(2 * time.Hour)

	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/finalize", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, h.decode(rec)["error"], "no oracle observations recorded yet")
}

func TestRedeemAfterPass(t *testing.T) {
	h := newHarness(t)
	id := h.createProposal("redeem me")
	h.initialize(id)

	deposit := map[string]any{"user": "bob", "amount": "500"}
	rec := h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/quote/deposit", id), deposit)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/quote/split", id), deposit)
	require.Equal(t, http.StatusOK, rec.Code)

	// Redeeming while the proposal is live is rejected.
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/quote/redeem", id),
		map[string]any{"user": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.crank(id, 20*time.Minute)
	h.crank(id, 20*time.Minute)
	h.now = h.now.Add(time.Hour)
	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/finalize", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "passed", h.decode(rec)["status"])

	rec = h.do(http.MethodPost, fmt.Sprintf("/api/proposals/%d/vaults/quote/redeem", id),
		map[string]any{"user": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := h.decode(rec)
	assert.Equal(t, "500", body["redeemed"])
	assert.Equal(t, "500", body["regular"])
	assert.Equal(t, "0", body["conditional"])
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(slog.Default()).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

// memAuditStore is a minimal in-memory domain.AuditStore.
type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

var _ domain.AuditStore = (*memAuditStore)(nil)

func TestListAudit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewAuditHandler(nil, logger).ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	store := &memAuditStore{}
	require.NoError(t, store.Log(context.Background(), "proposal_created", map[string]any{"id": 1}))

	rec = httptest.NewRecorder()
	NewAuditHandler(store, logger).ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total"])
}
