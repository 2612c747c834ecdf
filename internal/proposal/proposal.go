// Package proposal implements the governance proposal lifecycle: a monotonic
// state machine that owns one TWAP oracle, two conditional vaults, and two
// market facades, and orchestrates their initialization, cranking,
// finalization, and one-shot execution.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/market"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/vault"
)

// Collaborators bundles the external services a proposal acts through. Bundles
// may be nil, in which case initialization falls back to the sequential
// non-atomic path. Phases and Audit may be nil for ephemeral use.
type Collaborators struct {
	Pools      domain.PoolEngine
	Bundles    domain.BundleSubmitter
	Settlement domain.Settlement
	Executor   domain.TxExecutor
	Phases     domain.PhaseStore
	Audit      domain.AuditStore
	Logger     *slog.Logger
}

// Config holds the immutable parameters of a proposal.
type Config struct {
	ID           uint64
	Description  string
	Payload      domain.Tx
	Authority    string
	BaseAsset    domain.AssetID
	QuoteAsset   domain.AssetID
	SeedBase     *big.Int
	SeedQuote    *big.Int
	CreatedAt    time.Time
	VotingWindow time.Duration
	Oracle       oracle.Config
	// BundleTimeout bounds each AwaitLanded call during initialization.
	BundleTimeout time.Duration
}

// Proposal is the top-level lifecycle state machine. All transitions for a
// given proposal are serialized through lifecycleMu; vault balance mutations
// by traders go through the vaults' own fine-grained locks.
type Proposal struct {
	id          uint64
	description string
	payload     domain.Tx
	authority   string
	createdAt   time.Time
	finalizedAt time.Time
	cfg         Config
	collab      Collaborators
	logger      *slog.Logger
	twap        *oracle.TWAP

	// lifecycleMu serializes initialize/finalize/execute (single-flight).
	lifecycleMu sync.Mutex
	// mu guards status and the sub-object handles for readers.
	mu         sync.RWMutex
	status     domain.ProposalStatus
	baseVault  *vault.Vault
	quoteVault *vault.Vault
	passMkt    *market.Facade
	failMkt    *market.Facade

	clock func() time.Time
}

// New constructs a Proposal in the uninitialized state. Timestamps are fixed
// here: finalizedAt = createdAt + votingWindow.
func New(cfg Config, collab Collaborators) (*Proposal, error) {
	if cfg.VotingWindow <= 0 {
		return nil, fmt.Errorf("proposal: voting window must be positive")
	}
	if cfg.SeedBase == nil || cfg.SeedBase.Sign() <= 0 || cfg.SeedQuote == nil || cfg.SeedQuote.Sign() <= 0 {
		return nil, fmt.Errorf("proposal: seed amounts must be positive")
	}
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		return nil, fmt.Errorf("proposal: base and quote assets must be set")
	}
	if collab.Pools == nil || collab.Executor == nil {
		return nil, fmt.Errorf("proposal: pool engine and executor collaborators are required")
	}
	if collab.Logger == nil {
		collab.Logger = slog.Default()
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	logger := collab.Logger.With(
		slog.String("component", "proposal"),
		slog.Uint64("proposal_id", cfg.ID),
	)

	return &Proposal{
		id:          cfg.ID,
		description: cfg.Description,
		payload:     cfg.Payload,
		authority:   cfg.Authority,
		createdAt:   createdAt,
		finalizedAt: createdAt.Add(cfg.VotingWindow),
		cfg:         cfg,
		collab:      collab,
		logger:      logger,
		twap:        oracle.New(cfg.ID, createdAt, cfg.Oracle, logger),
		status:      domain.ProposalUninitialized,
		clock:       time.Now,
	}, nil
}

// SetClock overrides the time source for the proposal and its oracle.
// Intended for tests.
func (p *Proposal) SetClock(clock func() time.Time) {
	p.clock = clock
	p.twap.SetClock(clock)
}

// ID returns the proposal id.
func (p *Proposal) ID() uint64 { return p.id }

// Description returns the human-readable summary.
func (p *Proposal) Description() string { return p.description }

// CreatedAt returns the construction timestamp.
func (p *Proposal) CreatedAt() time.Time { return p.createdAt }

// FinalizedAt returns the voting deadline.
func (p *Proposal) FinalizedAt() time.Time { return p.finalizedAt }

// Status returns the current lifecycle status.
func (p *Proposal) Status() domain.ProposalStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Oracle returns the proposal's TWAP oracle.
func (p *Proposal) Oracle() *oracle.TWAP { return p.twap }

// Markets returns the (pass, fail) facades. It fails with ErrNotInitialized
// until initialization completes.
func (p *Proposal) Markets() (pass, fail *market.Facade, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status == domain.ProposalUninitialized || p.passMkt == nil || p.failMkt == nil {
		return nil, nil, domain.Errf(p.id, "get_markets", domain.ErrNotInitialized)
	}
	return p.passMkt, p.failMkt, nil
}

// Vaults returns the (base, quote) vaults. It fails with ErrNotInitialized
// until initialization completes.
func (p *Proposal) Vaults() (base, quote *vault.Vault, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status == domain.ProposalUninitialized || p.baseVault == nil || p.quoteVault == nil {
		return nil, nil, domain.Errf(p.id, "get_vaults", domain.ErrNotInitialized)
	}
	return p.baseVault, p.quoteVault, nil
}

// Vault returns the vault for one leg.
func (p *Proposal) Vault(leg domain.Leg) (*vault.Vault, error) {
	base, quote, err := p.Vaults()
	if err != nil {
		return nil, err
	}
	if leg == domain.LegQuote {
		return quote, nil
	}
	return base, nil
}

// Record returns the persisted view of the proposal.
func (p *Proposal) Record() domain.ProposalRecord {
	p.mu.RLock()
	status := p.status
	p.mu.RUnlock()

	twapPass, twapFail, _ := p.twap.Averages()
	return domain.ProposalRecord{
		ID:          p.id,
		Description: p.description,
		Status:      status,
		CreatedAt:   p.createdAt,
		FinalizedAt: p.finalizedAt,
		TWAPPass:    twapPass,
		TWAPFail:    twapFail,
	}
}

// Initialize stands up both vaults and both seeded markets through the
// two-phase coordinator, then transitions the proposal to pending. On failure
// the proposal stays uninitialized; if the vault phase already confirmed, a
// retry resumes at the market-seeding phase.
func (p *Proposal) Initialize(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if st := p.Status(); st != domain.ProposalUninitialized {
		return domain.Errf(p.id, "initialize", fmt.Errorf("status %s: already initialized", st))
	}

	coord := p.newCoordinator()
	if err := coord.Run(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.status = domain.ProposalPending
	p.mu.Unlock()

	p.audit(ctx, "proposal_initialized", map[string]any{
		"proposal_id":  p.id,
		"finalized_at": p.finalizedAt,
	})
	p.logger.Info("proposal initialized", slog.Time("finalized_at", p.finalizedAt))
	return nil
}

// Crank records a fresh oracle observation while the proposal is pending.
func (p *Proposal) Crank(ctx context.Context) (domain.Observation, bool, error) {
	switch st := p.Status(); st {
	case domain.ProposalUninitialized:
		return domain.Observation{}, false, domain.Errf(p.id, "crank", domain.ErrNotInitialized)
	case domain.ProposalPending:
		return p.twap.Crank(ctx)
	default:
		return domain.Observation{}, false, nil
	}
}

// Finalize drives the proposal past its voting deadline. Before finalizedAt it
// is a side-effect-free no-op returning pending. At or after the deadline it
// performs one final crank, reads the oracle decision, commits the terminal
// status, then runs best-effort settlement cleanup: liquidity unwind, vault
// finalization, and redemption of the authority's winning tokens. Cleanup
// failures are logged and never undo the committed decision.
func (p *Proposal) Finalize(ctx context.Context) (domain.ProposalStatus, error) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	const op = "finalize"
	st := p.Status()
	if st == domain.ProposalUninitialized {
		return st, domain.Errf(p.id, op, domain.ErrNotInitialized)
	}
	if p.clock().Before(p.finalizedAt) {
		return domain.ProposalPending, nil
	}
	if st != domain.ProposalPending {
		return st, nil
	}

	// Final crank so the decision reads the freshest observation. A failed
	// crank is not fatal: the decision falls back to the accumulated history.
	if _, _, err := p.twap.Crank(ctx); err != nil {
		p.logger.Warn("final crank failed", slog.String("error", err.Error()))
	}

	decision, err := p.twap.Decision()
	if err != nil {
		return st, domain.Errf(p.id, op, err)
	}

	// The single irreversible decision point.
	status := domain.ProposalFailed
	if decision == domain.DecisionPassing {
		status = domain.ProposalPassed
	}
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	p.twap.Freeze()

	twapPass, twapFail, _ := p.twap.Averages()
	p.logger.Info("proposal finalized",
		slog.String("status", string(status)),
		slog.Float64("twap_pass", twapPass),
		slog.Float64("twap_fail", twapFail),
	)
	p.audit(ctx, "proposal_finalized", map[string]any{
		"proposal_id": p.id,
		"status":      string(status),
		"twap_pass":   twapPass,
		"twap_fail":   twapFail,
	})

	p.cleanup(ctx, status)
	return status, nil
}

// cleanup runs the post-decision settlement steps in order: unwind market
// liquidity, finalize vaults, redeem the authority's winning tokens. Each step
// is best-effort; failures are logged and recorded, never propagated.
func (p *Proposal) cleanup(ctx context.Context, status domain.ProposalStatus) {
	for _, mkt := range []*market.Facade{p.passMkt, p.failMkt} {
		if mkt == nil || mkt.State() == market.StateFinalized {
			continue
		}
		if _, err := mkt.RemoveLiquidity(ctx); err != nil {
			p.cleanupFailed(ctx, fmt.Sprintf("remove_liquidity_%s", mkt.Side()), err)
		}
	}

	for _, v := range []*vault.Vault{p.baseVault, p.quoteVault} {
		if v == nil {
			continue
		}
		if err := v.Finalize(status); err != nil {
			p.cleanupFailed(ctx, fmt.Sprintf("finalize_vault_%s", v.Leg()), err)
		}
	}

	for _, v := range []*vault.Vault{p.baseVault, p.quoteVault} {
		if v == nil || v.Status() != domain.VaultFinalized {
			continue
		}
		redeemed, err := v.RedeemWinning(p.authority)
		if err != nil {
			p.cleanupFailed(ctx, fmt.Sprintf("redeem_%s", v.Leg()), err)
			continue
		}
		if redeemed.Sign() > 0 {
			p.logger.Info("authority tokens redeemed",
				slog.String("leg", string(v.Leg())),
				slog.String("amount", redeemed.String()),
			)
		}
	}
}

func (p *Proposal) cleanupFailed(ctx context.Context, step string, err error) {
	p.logger.Error("cleanup step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	p.audit(ctx, "cleanup_failed", map[string]any{
		"proposal_id": p.id,
		"step":        step,
		"error":       err.Error(),
	})
}

// Execute runs the payload transaction. It succeeds only from passed, and
// transitions to executed whether or not the payload lands successfully: the
// recorded decision is that execution was attempted. The result carries the
// settlement detail.
func (p *Proposal) Execute(ctx context.Context) (domain.ExecutionResult, error) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	const op = "execute"
	switch st := p.Status(); st {
	case domain.ProposalUninitialized:
		return domain.ExecutionResult{}, domain.Errf(p.id, op, domain.ErrNotInitialized)
	case domain.ProposalPending:
		return domain.ExecutionResult{}, domain.Errf(p.id, op, domain.ErrNotFinalized)
	case domain.ProposalFailed:
		return domain.ExecutionResult{}, domain.Errf(p.id, op, domain.ErrProposalFailed)
	case domain.ProposalExecuted:
		return domain.ExecutionResult{}, domain.Errf(p.id, op, domain.ErrAlreadyExecuted)
	}

	result, err := p.collab.Executor.ExecuteTx(ctx, p.payload, p.authority)
	if err != nil {
		// The attempt happened; fold the transport failure into the record.
		result = domain.ExecutionResult{
			Status:    domain.ExecutionFailed,
			Timestamp: p.clock(),
			Err:       err.Error(),
		}
	}
	result.ProposalID = p.id

	p.mu.Lock()
	p.status = domain.ProposalExecuted
	p.mu.Unlock()

	p.logger.Info("proposal executed",
		slog.String("signature", result.Signature),
		slog.String("status", string(result.Status)),
	)
	p.audit(ctx, "proposal_executed", map[string]any{
		"proposal_id": p.id,
		"signature":   result.Signature,
		"status":      string(result.Status),
		"error":       result.Err,
	})
	return result, nil
}

func (p *Proposal) audit(ctx context.Context, event string, detail map[string]any) {
	if p.collab.Audit == nil {
		return
	}
	if err := p.collab.Audit.Log(ctx, event, detail); err != nil {
		p.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
