package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/notify"
	"github.com/futarchlabs/futarchd/internal/proposal"
)

// ProposalHandler serves proposal lifecycle endpoints.
type ProposalHandler struct {
	moderator    *moderator.Moderator
	observations domain.ObservationStore // optional; nil falls back to in-memory history
	notifier     *notify.Notifier        // optional; nil disables lifecycle notifications
	logger       *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(m *moderator.Moderator, observations domain.ObservationStore, notifier *notify.Notifier, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{
		moderator:    m,
		observations: observations,
		notifier:     notifier,
		logger:       logger,
	}
}

// proposalResponse is the JSON view of a proposal.
type proposalResponse struct {
	ID          uint64    `json:"id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
	TWAPPass    float64   `json:"twap_pass"`
	TWAPFail    float64   `json:"twap_fail"`
}

func toProposalResponse(rec domain.ProposalRecord) proposalResponse {
	return proposalResponse{
		ID:          rec.ID,
		Description: rec.Description,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		FinalizedAt: rec.FinalizedAt,
		TWAPPass:    rec.TWAPPass,
		TWAPFail:    rec.TWAPFail,
	}
}

// createProposalRequest is the body of POST /api/proposals.
type createProposalRequest struct {
	Description string `json:"description"`
	PayloadKind string `json:"payload_kind"`
	PayloadMemo string `json:"payload_memo"`
	PayloadData []byte `json:"payload_data"`
}

// CreateProposal registers a new proposal in the uninitialized state.
// POST /api/proposals
func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	p, err := h.moderator.CreateProposal(r.Context(), req.Description, domain.Tx{
		Kind: req.PayloadKind,
		Memo: req.PayloadMemo,
		Data: req.PayloadData,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create proposal failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create proposal")
		return
	}

	writeJSON(w, http.StatusCreated, toProposalResponse(p.Record()))
}

// ListProposals returns all registered proposals.
// GET /api/proposals
func (h *ProposalHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	all := h.moderator.List()
	out := make([]proposalResponse, 0, len(all))
	for _, p := range all {
		out = append(out, toProposalResponse(p.Record()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals": out,
		"total":     len(out),
	})
}

// GetProposal returns one proposal.
// GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p.Record()))
}

// InitializeProposal runs the two-phase initialization.
// POST /api/proposals/{id}/initialize
func (h *ProposalHandler) InitializeProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := p.Initialize(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: initialize proposal failed",
			slog.Uint64("proposal_id", p.ID()),
			slog.String("error", err.Error()),
		)
		if h.notifier != nil {
			if nerr := h.notifier.InitFailed(r.Context(), p.ID(), err); nerr != nil {
				h.logger.Warn("init failure notification failed",
					slog.Uint64("proposal_id", p.ID()),
					slog.String("error", nerr.Error()),
				)
			}
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if h.notifier != nil {
		if err := h.notifier.ProposalInitialized(r.Context(), p.Record()); err != nil {
			h.logger.Warn("initialize notification failed",
				slog.Uint64("proposal_id", p.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p.Record()))
}

// FinalizeProposal attempts finalization. Before the voting deadline this is a
// no-op that reports the pending status.
// POST /api/proposals/{id}/finalize
func (h *ProposalHandler) FinalizeProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	status, err := p.Finalize(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			writeError(w, http.StatusConflict, "no oracle observations recorded yet")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: finalize proposal failed",
			slog.Uint64("proposal_id", p.ID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": p.ID(),
		"status":      string(status),
	})
}

// ExecuteProposal runs the payload of a passed proposal.
// POST /api/proposals/{id}/execute
func (h *ProposalHandler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	result, err := p.Execute(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if h.notifier != nil {
		if err := h.notifier.ProposalExecuted(r.Context(), result); err != nil {
			h.logger.Warn("execute notification failed",
				slog.Uint64("proposal_id", p.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": result.ProposalID,
		"signature":   result.Signature,
		"status":      string(result.Status),
		"error":       result.Err,
	})
}

// ListObservations returns the proposal's oracle observation history.
// GET /api/proposals/{id}/observations
func (h *ProposalHandler) ListObservations(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var (
		obs []domain.Observation
		err error
	)
	if h.observations != nil {
		obs, err = h.observations.ListByProposal(r.Context(), p.ID(), parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list observations failed",
				slog.Uint64("proposal_id", p.ID()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list observations")
			return
		}
	} else {
		obs = p.Oracle().Observations()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id":  p.ID(),
		"observations": obs,
		"total":        len(obs),
	})
}

// GetTWAP returns the proposal's current TWAP readings and, when enough data
// has accumulated, the decision the oracle would reach now.
// GET /api/proposals/{id}/twap
func (h *ProposalHandler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	twapPass, twapFail, err := p.Oracle().Averages()
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			writeError(w, http.StatusConflict, "no oracle observations recorded yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read oracle")
		return
	}

	resp := map[string]any{
		"proposal_id": p.ID(),
		"twap_pass":   twapPass,
		"twap_fail":   twapFail,
	}
	if decision, err := p.Oracle().Decision(); err == nil {
		resp["decision"] = string(decision)
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookup resolves the {id} path parameter to a live proposal, writing the
// error response itself on failure.
func (h *ProposalHandler) lookup(w http.ResponseWriter, r *http.Request) (*proposal.Proposal, bool) {
	id, err := proposalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	found, err := h.moderator.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return nil, false
	}
	return found, true
}
