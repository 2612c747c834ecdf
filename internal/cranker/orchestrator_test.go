package cranker

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
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/proposal"
	"github.com/futarchlabs/futarchd/internal/sim"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memObservationStore collects persisted observations.
type memObservationStore struct {
	mu           sync.Mutex
	observations []domain.Observation
}

func (s *memObservationStore) Insert(ctx context.Context, obs domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
	return nil
}

func (s *memObservationStore) ListByProposal(ctx context.Context, proposalID uint64, opts domain.ListOpts) ([]domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Observation(nil), s.observations...), nil
}

// recordingArchiver captures archive calls.
type recordingArchiver struct {
	mu   sync.Mutex
	recs []domain.ProposalRecord
}

func (a *recordingArchiver) ArchiveProposal(ctx context.Context, rec domain.ProposalRecord, observations []domain.Observation) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return "proposals/test.json", nil
}

type harness struct {
	now   time.Time
	mod   *moderator.Moderator
	prop  *proposal.Proposal
	orch  *Orchestrator
	obs   *memObservationStore
	arch  *recordingArchiver
	locks *sim.LockManager
}

func newHarness(t *testing.T, archive bool) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		now:   testStart,
		obs:   &memObservationStore{},
		arch:  &recordingArchiver{},
		locks: sim.NewLockManager(),
	}
	clock := func() time.Time { return h.now }

	mod, err := moderator.New(ctx, moderator.Params{
		Authority:    "dao-treasury",
		BaseAsset:    "META",
		QuoteAsset:   "USDC",
		SeedBase:     big.NewInt(1_000_000),
		SeedQuote:    big.NewInt(1_000_000),
		VotingWindow: time.Hour,
		Oracle:       oracle.Config{PassThresholdBps: 10_000},
	}, proposal.Collaborators{
		Pools:    sim.NewPoolEngine(),
		Bundles:  sim.NewBundleSubmitter(),
		Executor: sim.NewExecutor(),
		Logger:   slog.Default(),
	}, nil, slog.Default())
	require.NoError(t, err)
	mod.SetClock(clock)
	h.mod = mod

	p, err := mod.CreateProposal(ctx, "crank me", domain.Tx{Kind: "memo"})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))
	h.prop = p

	orch, err := New(Config{Interval: time.Second, Archive: archive}, Deps{
		Moderator:    mod,
		Observations: h.obs,
		Locks:        h.locks,
		Archiver:     h.arch,
		Logger:       slog.Default(),
	})
	require.NoError(t, err)
	orch.SetClock(clock)
	h.orch = orch
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: time.Second}, Deps{})
	assert.Error(t, err, "moderator is required")

	mod := &moderator.Moderator{}
	_, err = New(Config{}, Deps{Moderator: mod})
	assert.Error(t, err, "interval must be positive")
}

func TestTick_RecordsObservations(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.now = h.now.Add(time.Minute)
	h.orch.Tick(ctx)
	h.now = h.now.Add(time.Minute)
	h.orch.Tick(ctx)

	assert.Len(t, h.prop.Oracle().Observations(), 2)
	assert.Len(t, h.obs.observations, 2)
	assert.Equal(t, domain.ProposalPending, h.prop.Status())
}

func TestTick_FinalizesPastDeadline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.now = h.now.Add(time.Minute)
	h.orch.Tick(ctx)

	h.now = h.prop.FinalizedAt()
	h.orch.Tick(ctx)

	assert.True(t, h.prop.Status().Terminal())
	require.Len(t, h.arch.recs, 1)
	assert.Equal(t, h.prop.ID(), h.arch.recs[0].ID)
	assert.True(t, h.arch.recs[0].Status.Terminal())
}

func TestTick_SkipsWhenFinalizeLockHeld(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.now = h.now.Add(time.Minute)
	h.orch.Tick(ctx)

	// Another process holds the finalize lock; this tick must leave the
	// proposal alone.
	unlock, err := h.locks.Acquire(ctx, "finalize:1", time.Minute)
	require.NoError(t, err)

	h.now = h.prop.FinalizedAt()
	h.orch.Tick(ctx)
	assert.Equal(t, domain.ProposalPending, h.prop.Status())

	unlock()
	h.orch.Tick(ctx)
	assert.True(t, h.prop.Status().Terminal())
}

func TestTick_NoArchiveWhenDisabled(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.now = h.now.Add(time.Minute)
	h.orch.Tick(ctx)
	h.now = h.prop.FinalizedAt()
	h.orch.Tick(ctx)

	require.True(t, h.prop.Status().Terminal())
	assert.Empty(t, h.arch.recs)
}
