package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Bundle is a recorded submission.
type Bundle struct {
	ID   domain.BundleID
	Txs  []domain.Tx
	Slot uint64
}

// BundleSubmitter is an in-memory atomic bundle service. By default every
// bundle lands in the next slot; tests can program submit or landing failures
// per submission index.
type BundleSubmitter struct {
	mu       sync.Mutex
	bundles  []Bundle
	nextSlot uint64

	// FailSubmitAt holds zero-based submission indexes whose Submit errors.
	FailSubmitAt map[int]bool
	// FailLandAt holds zero-based submission indexes that report non-landed.
	FailLandAt map[int]bool
}

// NewBundleSubmitter creates a submitter where every bundle lands.
func NewBundleSubmitter() *BundleSubmitter {
	return &BundleSubmitter{
		nextSlot:     1000,
		FailSubmitAt: make(map[int]bool),
		FailLandAt:   make(map[int]bool),
	}
}

// Submit records the bundle and returns its id.
func (b *BundleSubmitter) Submit(ctx context.Context, txs []domain.Tx) (domain.BundleID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.bundles)
	if b.FailSubmitAt[idx] {
		b.bundles = append(b.bundles, Bundle{})
		return "", fmt.Errorf("sim: bundle submission refused")
	}

	b.nextSlot++
	bundle := Bundle{
		ID:   domain.BundleID(uuid.New().String()),
		Txs:  append([]domain.Tx(nil), txs...),
		Slot: b.nextSlot,
	}
	b.bundles = append(b.bundles, bundle)
	return bundle.ID, nil
}

// AwaitLanded reports the landing status for a submitted bundle.
func (b *BundleSubmitter) AwaitLanded(ctx context.Context, id domain.BundleID, timeout time.Duration) (domain.BundleStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for idx, bundle := range b.bundles {
		if bundle.ID != id {
			continue
		}
		if b.FailLandAt[idx] {
			return domain.BundleStatus{Landed: false}, nil
		}
		return domain.BundleStatus{Landed: true, Slot: bundle.Slot}, nil
	}
	return domain.BundleStatus{}, fmt.Errorf("sim: bundle %s: %w", id, domain.ErrNotFound)
}

// Submitted returns a copy of every recorded bundle, in submission order.
func (b *BundleSubmitter) Submitted() []Bundle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Bundle(nil), b.bundles...)
}

var _ domain.BundleSubmitter = (*BundleSubmitter)(nil)
