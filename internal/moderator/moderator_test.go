package moderator

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/proposal"
	"github.com/futarchlabs/futarchd/internal/sim"
)

// memProposalStore is an in-memory domain.ProposalStore.
type memProposalStore struct {
	mu      sync.Mutex
	records map[uint64]domain.ProposalRecord
}

func newMemProposalStore() *memProposalStore {
	return &memProposalStore{records: make(map[uint64]domain.ProposalRecord)}
}

func (s *memProposalStore) Upsert(ctx context.Context, rec domain.ProposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *memProposalStore) UpdateStatus(ctx context.Context, id uint64, status domain.ProposalStatus, twapPass, twapFail float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	rec.TWAPPass = twapPass
	rec.TWAPFail = twapFail
	s.records[id] = rec
	return nil
}

func (s *memProposalStore) GetByID(ctx context.Context, id uint64) (domain.ProposalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ProposalRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memProposalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ProposalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProposalRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memProposalStore) MaxID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for id := range s.records {
		if id > max {
			max = id
		}
	}
	return max, nil
}

var _ domain.ProposalStore = (*memProposalStore)(nil)

func testParams() Params {
	return Params{
		Authority:    "dao-treasury",
		BaseAsset:    "META",
		QuoteAsset:   "USDC",
		SeedBase:     big.NewInt(1_000_000),
		SeedQuote:    big.NewInt(1_000_000),
		VotingWindow: time.Hour,
		Oracle:       oracle.Config{PassThresholdBps: 10_000},
	}
}

func testCollab() proposal.Collaborators {
	return proposal.Collaborators{
		Pools:    sim.NewPoolEngine(),
		Bundles:  sim.NewBundleSubmitter(),
		Executor: sim.NewExecutor(),
		Logger:   slog.Default(),
	}
}

func TestNew_RequiresAuthority(t *testing.T) {
	_, err := New(context.Background(), Params{}, testCollab(), nil, slog.Default())
	assert.Error(t, err)
}

func TestModerator_CreateAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	store := newMemProposalStore()
	m, err := New(ctx, testParams(), testCollab(), store, slog.Default())
	require.NoError(t, err)

	p1, err := m.CreateProposal(ctx, "first", domain.Tx{Kind: "memo"})
	require.NoError(t, err)
	p2, err := m.CreateProposal(ctx, "second", domain.Tx{Kind: "memo"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p1.ID())
	assert.Equal(t, uint64(2), p2.ID())

	// The payload is stamped with the owning proposal id and the record is
	// persisted on creation.
	rec, err := store.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Description)
	assert.Equal(t, domain.ProposalUninitialized, rec.Status)
}

func TestModerator_ResumesIDSequenceFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemProposalStore()
	require.NoError(t, store.Upsert(ctx, domain.ProposalRecord{ID: 41, Description: "old"}))

	m, err := New(ctx, testParams(), testCollab(), store, slog.Default())
	require.NoError(t, err)

	p, err := m.CreateProposal(ctx, "new", domain.Tx{Kind: "memo"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.ID())
}

func TestModerator_TwoInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m1, err := New(ctx, testParams(), testCollab(), nil, slog.Default())
	require.NoError(t, err)
	m2, err := New(ctx, testParams(), testCollab(), nil, slog.Default())
	require.NoError(t, err)

	_, err = m1.CreateProposal(ctx, "only in m1", domain.Tx{Kind: "memo"})
	require.NoError(t, err)

	assert.Len(t, m1.List(), 1)
	assert.Empty(t, m2.List())
	_, err = m2.Get(1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModerator_GetListPending(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, testParams(), testCollab(), nil, slog.Default())
	require.NoError(t, err)

	p1, err := m.CreateProposal(ctx, "a", domain.Tx{Kind: "memo"})
	require.NoError(t, err)
	p2, err := m.CreateProposal(ctx, "b", domain.Tx{Kind: "memo"})
	require.NoError(t, err)

	got, err := m.Get(p1.ID())
	require.NoError(t, err)
	assert.Same(t, p1, got)
	_, err = m.Get(99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].ID())
	assert.Equal(t, uint64(2), list[1].ID())

	// Only initialized proposals are pending.
	assert.Empty(t, m.Pending())
	require.NoError(t, p2.Initialize(ctx))
	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, p2.ID(), pending[0].ID())
}
