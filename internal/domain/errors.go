package domain

import (
	"errors"
	"fmt"
)

// Precondition errors: the caller asked for an operation the current state
// does not permit. Never retried.
var (
	ErrNotInitialized    = errors.New("proposal not initialized")
	ErrNotFinalized      = errors.New("proposal not finalized")
	ErrAlreadyExecuted   = errors.New("proposal already executed")
	ErrProposalFailed    = errors.New("proposal failed")
	ErrPoolUninitialized = errors.New("pool uninitialized")
	ErrAMMFinalized      = errors.New("amm finalized")
	ErrAlreadySeeded     = errors.New("amm already seeded")
	ErrVaultFrozen       = errors.New("vault finalized")
	ErrVaultNotActive    = errors.New("vault not active")
)

// Validation errors: bad input, local to the call, no state mutated.
var (
	ErrNonPositiveAmount              = errors.New("amount must be positive")
	ErrInsufficientBalance            = errors.New("insufficient balance")
	ErrInsufficientConditionalBalance = errors.New("insufficient conditional balance")
	ErrInsufficientData               = errors.New("insufficient oracle data")
)

// External-confirmation errors: a bundle failed to land or a round-trip could
// not be confirmed. Fatal to the current initialization attempt.
var (
	ErrBundleNotLanded = errors.New("bundle did not land")
)

// Infrastructure errors shared across stores and caches.
var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

// ProposalError tags a failure with the proposal id and the offending
// operation name so no raw error leaks upward without that context.
type ProposalError struct {
	ProposalID uint64
	Op         string
	Err        error
}

// Error implements the error interface.
func (e *ProposalError) Error() string {
	return fmt.Sprintf("proposal #%d: %s: %v", e.ProposalID, e.Op, e.Err)
}

// Unwrap exposes the underlying taxonomy sentinel to errors.Is/As.
func (e *ProposalError) Unwrap() error {
	return e.Err
}

// Errf wraps err with the proposal id and operation name.
func Errf(proposalID uint64, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProposalError{ProposalID: proposalID, Op: op, Err: err}
}
