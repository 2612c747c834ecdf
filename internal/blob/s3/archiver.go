package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Archiver implements domain.ProposalArchiver by snapshotting a finalized
// proposal's decision record and full observation history as a JSON object.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver that writes through the given blob writer.
func NewArchiver(w domain.BlobWriter) *Archiver {
	return &Archiver{writer: w}
}

var _ domain.ProposalArchiver = (*Archiver)(nil)

// archiveDoc is the archived JSON shape.
type archiveDoc struct {
	Proposal     proposalDoc      `json:"proposal"`
	Observations []observationDoc `json:"observations"`
	ArchivedAt   time.Time        `json:"archived_at"`
}

type proposalDoc struct {
	ID          uint64    `json:"id"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
	TWAPPass    float64   `json:"twap_pass"`
	TWAPFail    float64   `json:"twap_fail"`
}

type observationDoc struct {
	Timestamp time.Time `json:"timestamp"`
	PassPrice float64   `json:"pass_price"`
	FailPrice float64   `json:"fail_price"`
}

// ArchiveProposal writes the snapshot and returns the object key.
func (a *Archiver) ArchiveProposal(ctx context.Context, rec domain.ProposalRecord, observations []domain.Observation) (string, error) {
	doc := archiveDoc{
		Proposal: proposalDoc{
			ID:          rec.ID,
			Description: rec.Description,
			Status:      string(rec.Status),
			CreatedAt:   rec.CreatedAt,
			FinalizedAt: rec.FinalizedAt,
			TWAPPass:    rec.TWAPPass,
			TWAPFail:    rec.TWAPFail,
		},
		Observations: make([]observationDoc, 0, len(observations)),
		ArchivedAt:   time.Now().UTC(),
	}
	for _, obs := range observations {
		doc.Observations = append(doc.Observations, observationDoc{
			Timestamp: obs.Timestamp,
			PassPrice: obs.PassPrice,
			FailPrice: obs.FailPrice,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal archive for proposal %d: %w", rec.ID, err)
	}

	key := fmt.Sprintf("proposals/%d/%s.json", rec.ID, rec.FinalizedAt.UTC().Format("20060102T150405Z"))
	if err := a.writer.Write(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive proposal %d: %w", rec.ID, err)
	}
	return key, nil
}
