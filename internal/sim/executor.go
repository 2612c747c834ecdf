package sim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Executor records payload executions. By default every payload succeeds;
// tests can force the next attempt to report a settlement failure.
type Executor struct {
	mu       sync.Mutex
	executed []domain.Tx

	// FailNext makes the next ExecuteTx report a failed settlement outcome.
	FailNext bool
}

// NewExecutor creates a succeeding executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// ExecuteTx records the payload and returns a signed result.
func (e *Executor) ExecuteTx(ctx context.Context, payload domain.Tx, signer string) (domain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, payload)

	result := domain.ExecutionResult{
		ProposalID: payload.ProposalID,
		Signature:  uuid.New().String(),
		Status:     domain.ExecutionSuccess,
		Timestamp:  time.Now().UTC(),
	}
	if e.FailNext {
		e.FailNext = false
		result.Status = domain.ExecutionFailed
		result.Err = "sim: payload rejected at settlement"
	}
	return result, nil
}

// Executed returns every payload run so far.
func (e *Executor) Executed() []domain.Tx {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Tx(nil), e.executed...)
}

var _ domain.TxExecutor = (*Executor)(nil)
