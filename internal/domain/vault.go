package domain

import "math/big"

// AssetID identifies a token asset. For underlying assets it is the mint
// identity; for conditional assets it is derived deterministically from the
// underlying asset, the proposal id, and the vault leg.
type AssetID string

// Leg names one of the two underlying token legs tracked by its own vault.
type Leg string

const (
	LegBase  Leg = "base"
	LegQuote Leg = "quote"
)

// Valid reports whether l is one of the two known legs.
func (l Leg) Valid() bool {
	return l == LegBase || l == LegQuote
}

// VaultStatus is the lifecycle state of a conditional vault.
type VaultStatus string

const (
	// VaultUninitialized: constructed in memory, not yet confirmed externally.
	VaultUninitialized VaultStatus = "uninitialized"
	// VaultActive: confirmed; split and merge are allowed.
	VaultActive VaultStatus = "active"
	// VaultFinalized: frozen read-only; only redemption remains.
	VaultFinalized VaultStatus = "finalized"
)

// Balance is a user's (regular, conditional) pair inside one vault leg.
type Balance struct {
	Regular     *big.Int
	Conditional *big.Int
}
