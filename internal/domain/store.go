package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ProposalStore persists proposal records.
type ProposalStore interface {
	Upsert(ctx context.Context, rec ProposalRecord) error
	UpdateStatus(ctx context.Context, id uint64, status ProposalStatus, twapPass, twapFail float64) error
	GetByID(ctx context.Context, id uint64) (ProposalRecord, error)
	List(ctx context.Context, opts ListOpts) ([]ProposalRecord, error)
	MaxID(ctx context.Context) (uint64, error)
}

// ObservationStore persists the oracle's observation history.
type ObservationStore interface {
	Insert(ctx context.Context, obs Observation) error
	ListByProposal(ctx context.Context, proposalID uint64, opts ListOpts) ([]Observation, error)
}

// InitPhase names a phase of the two-phase initialization saga.
type InitPhase string

const (
	PhaseVaults  InitPhase = "vaults"
	PhaseMarkets InitPhase = "markets"
)

// PhaseMarker is a durable record that an initialization phase confirmed, so a
// half-completed saga can resume instead of restarting.
type PhaseMarker struct {
	ProposalID  uint64
	Phase       InitPhase
	BundleID    BundleID
	LandedSlot  uint64
	CompletedAt time.Time
}

// PhaseStore persists phase-completion markers.
type PhaseStore interface {
	Mark(ctx context.Context, m PhaseMarker) error
	Get(ctx context.Context, proposalID uint64, phase InitPhase) (PhaseMarker, error)
	ListByProposal(ctx context.Context, proposalID uint64) ([]PhaseMarker, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle transitions and
// cleanup failures.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ProposalArchiver snapshots a finalized proposal's observation history and
// decision record to long-term blob storage.
type ProposalArchiver interface {
	ArchiveProposal(ctx context.Context, rec ProposalRecord, observations []Observation) (string, error)
}

// BlobWriter writes a blob to object storage and returns its key.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
