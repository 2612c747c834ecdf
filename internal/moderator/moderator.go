// Package moderator maintains the registry of live proposals. It assigns
// monotonically increasing ids, constructs each proposal with the DAO-wide
// governance parameters, and persists records so ids survive restarts.
package moderator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/proposal"
)

// Params holds the DAO-level settings applied to every proposal the moderator
// creates.
type Params struct {
	Authority     string
	BaseAsset     domain.AssetID
	QuoteAsset    domain.AssetID
	SeedBase      *big.Int
	SeedQuote     *big.Int
	VotingWindow  time.Duration
	Oracle        oracle.Config
	BundleTimeout time.Duration
}

// Moderator is the proposal registry. It is an explicit dependency handed to
// callers rather than process-global state, so tests and multi-DAO deployments
// can run isolated instances side by side.
type Moderator struct {
	params Params
	collab proposal.Collaborators
	store  domain.ProposalStore
	logger *slog.Logger

	mu        sync.RWMutex
	proposals map[uint64]*proposal.Proposal
	nextID    uint64

	clock func() time.Time
}

// New constructs a Moderator. When a ProposalStore is provided, the id
// sequence resumes past the highest persisted id.
func New(ctx context.Context, params Params, collab proposal.Collaborators, store domain.ProposalStore, logger *slog.Logger) (*Moderator, error) {
	if params.Authority == "" {
		return nil, fmt.Errorf("moderator: authority must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Moderator{
		params:    params,
		collab:    collab,
		store:     store,
		logger:    logger.With(slog.String("component", "moderator")),
		proposals: make(map[uint64]*proposal.Proposal),
		nextID:    1,
		clock:     time.Now,
	}

	if store != nil {
		maxID, err := store.MaxID(ctx)
		if err != nil {
			return nil, fmt.Errorf("moderator: seed id sequence: %w", err)
		}
		m.nextID = maxID + 1
	}
	return m, nil
}

// SetClock overrides the time source used for new proposals. Intended for
// tests.
func (m *Moderator) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// CreateProposal registers a new proposal in the uninitialized state and
// persists its record. The caller drives initialization separately.
func (m *Moderator) CreateProposal(ctx context.Context, description string, payload domain.Tx) (*proposal.Proposal, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	now := m.clock().UTC()
	clock := m.clock
	m.mu.Unlock()

	payload.ProposalID = id
	p, err := proposal.New(proposal.Config{
		ID:            id,
		Description:   description,
		Payload:       payload,
		Authority:     m.params.Authority,
		BaseAsset:     m.params.BaseAsset,
		QuoteAsset:    m.params.QuoteAsset,
		SeedBase:      m.params.SeedBase,
		SeedQuote:     m.params.SeedQuote,
		CreatedAt:     now,
		VotingWindow:  m.params.VotingWindow,
		Oracle:        m.params.Oracle,
		BundleTimeout: m.params.BundleTimeout,
	}, m.collab)
	if err != nil {
		return nil, fmt.Errorf("moderator: create proposal %d: %w", id, err)
	}
	p.SetClock(clock)

	if m.store != nil {
		if err := m.store.Upsert(ctx, p.Record()); err != nil {
			return nil, fmt.Errorf("moderator: persist proposal %d: %w", id, err)
		}
	}

	m.mu.Lock()
	m.proposals[id] = p
	m.mu.Unlock()

	m.logger.Info("proposal created",
		slog.Uint64("proposal_id", id),
		slog.String("description", description),
	)
	return p, nil
}

// Get returns the live proposal with the given id.
func (m *Moderator) Get(id uint64) (*proposal.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, domain.Errf(id, "moderator.get", domain.ErrNotFound)
	}
	return p, nil
}

// List returns all live proposals ordered by id.
func (m *Moderator) List() []*proposal.Proposal {
	m.mu.RLock()
	out := make([]*proposal.Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Pending returns the proposals currently in the voting window, ordered by id.
func (m *Moderator) Pending() []*proposal.Proposal {
	all := m.List()
	out := all[:0]
	for _, p := range all {
		if p.Status() == domain.ProposalPending {
			out = append(out, p)
		}
	}
	return out
}
