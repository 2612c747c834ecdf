package handler

import (
	"log/slog"
	"net/http"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/market"
	"github.com/futarchlabs/futarchd/internal/moderator"
)

// MarketHandler serves conditional-market endpoints.
type MarketHandler struct {
	moderator *moderator.Moderator
	prices    domain.PriceCache // optional; nil falls back to the pool engine
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(m *moderator.Moderator, prices domain.PriceCache, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{moderator: m, prices: prices, logger: logger}
}

// marketResponse is the JSON view of one conditional market.
type marketResponse struct {
	Side         string  `json:"side"`
	State        string  `json:"state"`
	Pool         string  `json:"pool"`
	BaseReserve  string  `json:"base_reserve,omitempty"`
	QuoteReserve string  `json:"quote_reserve,omitempty"`
	Price        float64 `json:"price,omitempty"`
}

// ListMarkets returns the state of both conditional markets.
// GET /api/proposals/{id}/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.moderator.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	pass, fail, err := p.Markets()
	if err != nil {
		writeError(w, http.StatusConflict, "proposal not initialized")
		return
	}

	out := make([]marketResponse, 0, 2)
	for _, f := range []*market.Facade{pass, fail} {
		resp := marketResponse{
			Side:  string(f.Side()),
			State: string(f.State()),
			Pool:  string(f.Pool()),
		}
		if state, err := f.FetchState(r.Context()); err == nil {
			resp.BaseReserve = state.BaseReserve.String()
			resp.QuoteReserve = state.QuoteReserve.String()
			resp.Price = state.Price
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"markets":     out,
	})
}

// GetPrices returns the latest pass/fail prices, preferring the cache.
// GET /api/proposals/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.moderator.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}

	if h.prices != nil {
		if pass, fail, ts, err := h.prices.GetPrices(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"proposal_id": id,
				"pass_price":  pass,
				"fail_price":  fail,
				"timestamp":   ts,
				"source":      "cache",
			})
			return
		}
	}

	passMkt, failMkt, err := p.Markets()
	if err != nil {
		writeError(w, http.StatusConflict, "proposal not initialized")
		return
	}
	passPrice, err := passMkt.FetchPrice(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	failPrice, err := failMkt.FetchPrice(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"pass_price":  passPrice,
		"fail_price":  failPrice,
		"source":      "pool",
	})
}

// tradeRequest is the body of the trade endpoint.
type tradeRequest struct {
	Trader         string `json:"trader"`
	Direction      string `json:"direction"`
	Amount         string `json:"amount"`
	MaxSlippageBps int    `json:"max_slippage_bps"`
}

// Trade executes a swap on one conditional market.
// POST /api/proposals/{id}/markets/{side}/trade
func (h *MarketHandler) Trade(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.moderator.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	pass, fail, err := p.Markets()
	if err != nil {
		writeError(w, http.StatusConflict, "proposal not initialized")
		return
	}

	var mkt *market.Facade
	switch domain.MarketSide(r.PathValue("side")) {
	case domain.MarketPass:
		mkt = pass
	case domain.MarketFail:
		mkt = fail
	default:
		writeError(w, http.StatusBadRequest, "side must be pass or fail")
		return
	}

	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Trader == "" {
		writeError(w, http.StatusBadRequest, "trader is required")
		return
	}
	direction := domain.SwapDirection(req.Direction)
	if direction != domain.SwapBaseToQuote && direction != domain.SwapQuoteToBase {
		writeError(w, http.StatusBadRequest, "direction must be base_to_quote or quote_to_base")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := mkt.Trade(r.Context(), direction, amount, req.MaxSlippageBps, req.Trader)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: trade rejected",
			slog.Uint64("proposal_id", id),
			slog.String("side", string(mkt.Side())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"side":        string(mkt.Side()),
		"receipt":     receipt.ID,
		"timestamp":   receipt.Timestamp,
	})
}
