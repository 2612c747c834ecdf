package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// ObservationStore implements domain.ObservationStore using PostgreSQL.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates a new ObservationStore backed by the given pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

var _ domain.ObservationStore = (*ObservationStore)(nil)

// Insert persists a single oracle observation. Re-inserting an observation
// taken at the same instant is a no-op, matching the oracle's own
// same-timestamp dedup.
func (s *ObservationStore) Insert(ctx context.Context, obs domain.Observation) error {
	const query = `
		INSERT INTO observations (proposal_id, observed_at, pass_price, fail_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_id, observed_at) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		obs.ProposalID, obs.Timestamp, obs.PassPrice, obs.FailPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert observation for proposal %d: %w", obs.ProposalID, err)
	}
	return nil
}

// ListByProposal returns a proposal's observations in time order.
func (s *ObservationStore) ListByProposal(ctx context.Context, proposalID uint64, opts domain.ListOpts) ([]domain.Observation, error) {
	query := `
		SELECT proposal_id, observed_at, pass_price, fail_price
		FROM observations
		WHERE proposal_id = $1
		ORDER BY observed_at`
	args := []any{proposalID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations for proposal %d: %w", proposalID, err)
	}
	defer rows.Close()

	var obs []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.ProposalID, &o.Timestamp, &o.PassPrice, &o.FailPrice); err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list observations rows: %w", err)
	}
	return obs, nil
}
