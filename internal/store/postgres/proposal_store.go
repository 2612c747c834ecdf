package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

var _ domain.ProposalStore = (*ProposalStore)(nil)

// Upsert inserts or updates a proposal record.
func (s *ProposalStore) Upsert(ctx context.Context, rec domain.ProposalRecord) error {
	const query = `
		INSERT INTO proposals (
			id, description, status, created_at, finalized_at,
			twap_pass, twap_fail, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			description  = EXCLUDED.description,
			status       = EXCLUDED.status,
			finalized_at = EXCLUDED.finalized_at,
			twap_pass    = EXCLUDED.twap_pass,
			twap_fail    = EXCLUDED.twap_fail,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Description, string(rec.Status),
		rec.CreatedAt, rec.FinalizedAt,
		rec.TWAPPass, rec.TWAPFail,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert proposal %d: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus records a lifecycle transition together with the TWAP readings
// that justified it.
func (s *ProposalStore) UpdateStatus(ctx context.Context, id uint64, status domain.ProposalStatus, twapPass, twapFail float64) error {
	const query = `
		UPDATE proposals SET
			status     = $2,
			twap_pass  = $3,
			twap_fail  = $4,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), twapPass, twapFail)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const proposalCols = `id, description, status, created_at, finalized_at,
	twap_pass, twap_fail, updated_at`

func scanProposal(row pgx.Row) (domain.ProposalRecord, error) {
	var rec domain.ProposalRecord
	var status string
	err := row.Scan(
		&rec.ID, &rec.Description, &status,
		&rec.CreatedAt, &rec.FinalizedAt,
		&rec.TWAPPass, &rec.TWAPFail, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.ProposalRecord{}, err
	}
	rec.Status = domain.ProposalStatus(status)
	return rec, nil
}

// GetByID retrieves a proposal by its id.
func (s *ProposalStore) GetByID(ctx context.Context, id uint64) (domain.ProposalRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM proposals WHERE id = $1`, id)
	rec, err := scanProposal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProposalRecord{}, domain.ErrNotFound
		}
		return domain.ProposalRecord{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return rec, nil
}

// List returns proposals ordered by id with pagination.
func (s *ProposalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ProposalRecord, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals ORDER BY id`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var recs []domain.ProposalRecord
	for rows.Next() {
		rec, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return recs, nil
}

// MaxID returns the highest proposal id, or zero when the table is empty.
func (s *ProposalStore) MaxID(ctx context.Context) (uint64, error) {
	var max uint64
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM proposals").Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: max proposal id: %w", err)
	}
	return max, nil
}
