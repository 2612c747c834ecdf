package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/vault"
)

// VaultHandler serves conditional-vault endpoints.
type VaultHandler struct {
	moderator *moderator.Moderator
	logger    *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(m *moderator.Moderator, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{moderator: m, logger: logger}
}

// vaultResponse is the JSON view of a vault.
type vaultResponse struct {
	ProposalID       uint64 `json:"proposal_id"`
	Leg              string `json:"leg"`
	Underlying       string `json:"underlying"`
	ConditionalAsset string `json:"conditional_asset"`
	Status           string `json:"status"`
	TotalSupply      string `json:"total_supply"`
	ConditionalTotal string `json:"conditional_total"`
}

func toVaultResponse(v *vault.Vault) vaultResponse {
	return vaultResponse{
		ProposalID:       v.ProposalID(),
		Leg:              string(v.Leg()),
		Underlying:       string(v.UnderlyingAsset()),
		ConditionalAsset: string(v.ConditionalAsset()),
		Status:           string(v.Status()),
		TotalSupply:      v.TotalSupply().String(),
		ConditionalTotal: v.ConditionalTotalSupply().String(),
	}
}

// GetVault returns one leg's vault summary.
// GET /api/proposals/{id}/vaults/{leg}
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toVaultResponse(v))
}

// GetBalance returns one user's balance pair in the vault.
// GET /api/proposals/{id}/vaults/{leg}/balance?user=alice
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	bal := v.Balances(user)
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": v.ProposalID(),
		"leg":         string(v.Leg()),
		"user":        user,
		"regular":     bal.Regular.String(),
		"conditional": bal.Conditional.String(),
	})
}

// balanceMutationRequest is the body of deposit, split, and merge requests.
type balanceMutationRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// Deposit credits regular tokens to a user.
// POST /api/proposals/{id}/vaults/{leg}/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "deposit", (*vault.Vault).Deposit)
}

// Split exchanges regular tokens for conditional tokens 1:1.
// POST /api/proposals/{id}/vaults/{leg}/split
func (h *VaultHandler) Split(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "split", (*vault.Vault).Split)
}

// Merge exchanges conditional tokens back for regular tokens 1:1.
// POST /api/proposals/{id}/vaults/{leg}/merge
func (h *VaultHandler) Merge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "merge", (*vault.Vault).Merge)
}

// Redeem settles a user's conditional tokens after finalization.
// POST /api/proposals/{id}/vaults/{leg}/redeem
func (h *VaultHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		User string `json:"user"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	redeemed, err := v.RedeemWinning(req.User)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	bal := v.Balances(req.User)
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": v.ProposalID(),
		"leg":         string(v.Leg()),
		"user":        req.User,
		"redeemed":    redeemed.String(),
		"regular":     bal.Regular.String(),
		"conditional": bal.Conditional.String(),
	})
}

func (h *VaultHandler) mutate(w http.ResponseWriter, r *http.Request, op string, apply func(*vault.Vault, string, *big.Int) error) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req balanceMutationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := apply(v, req.User, amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: vault mutation rejected",
			slog.Uint64("proposal_id", v.ProposalID()),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	bal := v.Balances(req.User)
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": v.ProposalID(),
		"leg":         string(v.Leg()),
		"user":        req.User,
		"regular":     bal.Regular.String(),
		"conditional": bal.Conditional.String(),
	})
}

// lookup resolves {id} and {leg} to a live vault, writing the error response
// itself on failure.
func (h *VaultHandler) lookup(w http.ResponseWriter, r *http.Request) (*vault.Vault, bool) {
	id, err := proposalIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	p, err := h.moderator.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "proposal not found")
		return nil, false
	}

	leg := domain.Leg(r.PathValue("leg"))
	if !leg.Valid() {
		writeError(w, http.StatusBadRequest, "leg must be base or quote")
		return nil, false
	}
	v, err := p.Vault(leg)
	if err != nil {
		writeError(w, http.StatusConflict, "proposal not initialized")
		return nil, false
	}
	return v, true
}
