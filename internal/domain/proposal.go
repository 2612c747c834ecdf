// Package domain defines the core types, interfaces, and error taxonomy shared
// by every layer of the futarchy decision engine. It has no dependencies on
// concrete storage, transport, or pool implementations.
package domain

import "time"

// ProposalStatus represents the lifecycle state of a governance proposal.
// Transitions are monotonic: uninitialized -> pending -> passed|failed ->
// executed. A status never regresses.
type ProposalStatus string

const (
	ProposalUninitialized ProposalStatus = "uninitialized"
	ProposalPending       ProposalStatus = "pending"
	ProposalPassed        ProposalStatus = "passed"
	ProposalFailed        ProposalStatus = "failed"
	ProposalExecuted      ProposalStatus = "executed"
)

// Terminal reports whether the status is a decision outcome or beyond.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalPassed, ProposalFailed, ProposalExecuted:
		return true
	default:
		return false
	}
}

// Decision is the outcome read from the TWAP oracle.
type Decision string

const (
	DecisionPassing Decision = "passing"
	DecisionFailing Decision = "failing"
)

// MarketSide identifies which conditional market a component belongs to.
type MarketSide string

const (
	MarketPass MarketSide = "pass"
	MarketFail MarketSide = "fail"
)

// ProposalRecord is the persisted view of a proposal.
type ProposalRecord struct {
	ID          uint64
	Description string
	Status      ProposalStatus
	CreatedAt   time.Time
	FinalizedAt time.Time
	TWAPPass    float64
	TWAPFail    float64
	UpdatedAt   time.Time
}

// Observation is a single TWAP price sample taken from both conditional
// markets at the same instant.
type Observation struct {
	ProposalID uint64
	Timestamp  time.Time
	PassPrice  float64
	FailPrice  float64
}

// ExecutionStatus reports the settlement-layer outcome of the payload
// transaction.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionResult is returned by Proposal.Execute. The proposal transitions to
// executed whether or not the payload succeeded at the settlement layer; the
// result carries the detail.
type ExecutionResult struct {
	ProposalID uint64
	Signature  string
	Status     ExecutionStatus
	Timestamp  time.Time
	Err        string
}
