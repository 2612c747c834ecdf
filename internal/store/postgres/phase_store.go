package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// PhaseStore implements domain.PhaseStore using PostgreSQL. Phase markers are
// the durable record that lets a half-completed initialization resume instead
// of restarting.
type PhaseStore struct {
	pool *pgxpool.Pool
}

// NewPhaseStore creates a new PhaseStore backed by the given pool.
func NewPhaseStore(pool *pgxpool.Pool) *PhaseStore {
	return &PhaseStore{pool: pool}
}

var _ domain.PhaseStore = (*PhaseStore)(nil)

// Mark records that a phase confirmed. Marking the same phase twice keeps the
// first record.
func (s *PhaseStore) Mark(ctx context.Context, m domain.PhaseMarker) error {
	const query = `
		INSERT INTO init_phases (proposal_id, phase, bundle_id, landed_slot, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, phase) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		m.ProposalID, string(m.Phase), string(m.BundleID), m.LandedSlot, m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark phase %s for proposal %d: %w", m.Phase, m.ProposalID, err)
	}
	return nil
}

// Get retrieves one phase marker, or ErrNotFound if the phase never confirmed.
func (s *PhaseStore) Get(ctx context.Context, proposalID uint64, phase domain.InitPhase) (domain.PhaseMarker, error) {
	const query = `
		SELECT proposal_id, phase, bundle_id, landed_slot, completed_at
		FROM init_phases
		WHERE proposal_id = $1 AND phase = $2`

	var m domain.PhaseMarker
	var phaseStr, bundleID string
	err := s.pool.QueryRow(ctx, query, proposalID, string(phase)).Scan(
		&m.ProposalID, &phaseStr, &bundleID, &m.LandedSlot, &m.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PhaseMarker{}, domain.ErrNotFound
		}
		return domain.PhaseMarker{}, fmt.Errorf("postgres: get phase %s for proposal %d: %w", phase, proposalID, err)
	}
	m.Phase = domain.InitPhase(phaseStr)
	m.BundleID = domain.BundleID(bundleID)
	return m, nil
}

// ListByProposal returns all confirmed phases for a proposal.
func (s *PhaseStore) ListByProposal(ctx context.Context, proposalID uint64) ([]domain.PhaseMarker, error) {
	const query = `
		SELECT proposal_id, phase, bundle_id, landed_slot, completed_at
		FROM init_phases
		WHERE proposal_id = $1
		ORDER BY completed_at`

	rows, err := s.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list phases for proposal %d: %w", proposalID, err)
	}
	defer rows.Close()

	var markers []domain.PhaseMarker
	for rows.Next() {
		var m domain.PhaseMarker
		var phaseStr, bundleID string
		if err := rows.Scan(&m.ProposalID, &phaseStr, &bundleID, &m.LandedSlot, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan phase marker: %w", err)
		}
		m.Phase = domain.InitPhase(phaseStr)
		m.BundleID = domain.BundleID(bundleID)
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list phases rows: %w", err)
	}
	return markers, nil
}
