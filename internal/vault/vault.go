// Package vault implements the conditional-token vault: per-user accounting of
// the 1:1 split/merge relationship between a regular asset and its conditional
// counterpart for one token leg of one proposal.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Config holds the immutable identity of a vault.
type Config struct {
	ProposalID uint64
	Leg        domain.Leg
	Underlying domain.AssetID
}

// account is one user's balance pair. The mutex keeps split/merge atomic per
// user without serializing unrelated users.
type account struct {
	mu          sync.Mutex
	regular     big.Int
	conditional big.Int
}

// Vault tracks regular and conditional balances for one (proposal, leg) pair.
// Balances are arbitrary-precision and never negative.
type Vault struct {
	proposalID  uint64
	leg         domain.Leg
	underlying  domain.AssetID
	conditional domain.AssetID

	mu       sync.RWMutex // guards accounts membership, status, outcome
	accounts map[string]*account
	status   domain.VaultStatus
	outcome  domain.ProposalStatus
}

// New creates a Vault for the given proposal leg. The conditional asset
// identity is derived deterministically, so independent processes agree on it
// without coordination.
func New(cfg Config) (*Vault, error) {
	if !cfg.Leg.Valid() {
		return nil, fmt.Errorf("vault: unknown leg %q", cfg.Leg)
	}
	if cfg.Underlying == "" {
		return nil, fmt.Errorf("vault: underlying asset must not be empty")
	}
	return &Vault{
		proposalID:  cfg.ProposalID,
		leg:         cfg.Leg,
		underlying:  cfg.Underlying,
		conditional: DeriveConditionalAsset(cfg.Underlying, cfg.ProposalID, cfg.Leg),
		accounts:    make(map[string]*account),
		status:      domain.VaultUninitialized,
	}, nil
}

// DeriveConditionalAsset returns the conditional-asset identity for the given
// underlying asset, proposal, and leg. The derivation is a one-way hash of the
// three inputs, so two vaults created independently for the same triple always
// agree.
func DeriveConditionalAsset(underlying domain.AssetID, proposalID uint64, leg domain.Leg) domain.AssetID {
	seed := fmt.Sprintf("%s_%d_%s", underlying, proposalID, leg)
	sum := sha256.Sum256([]byte(seed))
	return domain.AssetID("cond-" + hex.EncodeToString(sum[:]))
}

// ProposalID returns the owning proposal id.
func (v *Vault) ProposalID() uint64 { return v.proposalID }

// Leg returns the token leg this vault tracks.
func (v *Vault) Leg() domain.Leg { return v.leg }

// UnderlyingAsset returns the regular asset identity.
func (v *Vault) UnderlyingAsset() domain.AssetID { return v.underlying }

// ConditionalAsset returns the derived conditional asset identity.
func (v *Vault) ConditionalAsset() domain.AssetID { return v.conditional }

// Status returns the vault lifecycle state.
func (v *Vault) Status() domain.VaultStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

// Outcome returns the proposal outcome the vault was finalized with, or the
// empty string while the vault is still live.
func (v *Vault) Outcome() domain.ProposalStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.outcome
}

// BuildInitTx returns the instruction that provisions this vault at the
// settlement layer. It is bundled by the initialization coordinator.
func (v *Vault) BuildInitTx() domain.Tx {
	return domain.Tx{
		Kind:       "vault_init",
		ProposalID: v.proposalID,
		Memo:       fmt.Sprintf("vault init | proposal #%d | leg %s | conditional %s", v.proposalID, v.leg, v.conditional),
	}
}

// Activate marks the vault confirmed. Called by the coordinator after the
// vault phase lands.
func (v *Vault) Activate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == domain.VaultUninitialized {
		v.status = domain.VaultActive
	}
}

// getAccount returns the account for user, creating it if needed.
func (v *Vault) getAccount(user string) *account {
	v.mu.RLock()
	acct := v.accounts[user]
	v.mu.RUnlock()
	if acct != nil {
		return acct
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if acct = v.accounts[user]; acct == nil {
		acct = &account{}
		v.accounts[user] = acct
	}
	return acct
}

// checkLive returns a taxonomy error when the vault cannot accept mutations.
func (v *Vault) checkLive(op string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch v.status {
	case domain.VaultFinalized:
		return domain.Errf(v.proposalID, op, domain.ErrVaultFrozen)
	case domain.VaultUninitialized:
		return domain.Errf(v.proposalID, op, domain.ErrVaultNotActive)
	}
	return nil
}

// Deposit credits regular tokens to a user. In a real deployment the credit is
// backed by a settlement-layer transfer into the vault escrow; the coordinator
// performs that transfer before calling Deposit.
func (v *Vault) Deposit(user string, amount *big.Int) error {
	const op = "vault.deposit"
	if amount == nil || amount.Sign() <= 0 {
		return domain.Errf(v.proposalID, op, domain.ErrNonPositiveAmount)
	}
	if err := v.checkLive(op); err != nil {
		return err
	}

	acct := v.getAccount(user)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.regular.Add(&acct.regular, amount)
	return nil
}

// Split debits regular tokens and credits conditional tokens 1:1, atomically
// for the user. It fails with ErrInsufficientBalance when the user's regular
// balance cannot cover the amount.
func (v *Vault) Split(user string, amount *big.Int) error {
	const op = "vault.split"
	if amount == nil || amount.Sign() <= 0 {
		return domain.Errf(v.proposalID, op, domain.ErrNonPositiveAmount)
	}
	if err := v.checkLive(op); err != nil {
		return err
	}

	acct := v.getAccount(user)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.regular.Cmp(amount) < 0 {
		return domain.Errf(v.proposalID, op,
			fmt.Errorf("available %s, requested %s: %w", acct.regular.String(), amount.String(), domain.ErrInsufficientBalance))
	}
	acct.regular.Sub(&acct.regular, amount)
	acct.conditional.Add(&acct.conditional, amount)
	return nil
}

// Merge is the dual of Split: debits conditional, credits regular, 1:1.
func (v *Vault) Merge(user string, amount *big.Int) error {
	const op = "vault.merge"
	if amount == nil || amount.Sign() <= 0 {
		return domain.Errf(v.proposalID, op, domain.ErrNonPositiveAmount)
	}
	if err := v.checkLive(op); err != nil {
		return err
	}

	acct := v.getAccount(user)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.conditional.Cmp(amount) < 0 {
		return domain.Errf(v.proposalID, op,
			fmt.Errorf("available %s, requested %s: %w", acct.conditional.String(), amount.String(), domain.ErrInsufficientConditionalBalance))
	}
	acct.conditional.Sub(&acct.conditional, amount)
	acct.regular.Add(&acct.regular, amount)
	return nil
}

// Balances returns a copy of the user's (regular, conditional) pair.
func (v *Vault) Balances(user string) domain.Balance {
	acct := v.getAccount(user)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return domain.Balance{
		Regular:     new(big.Int).Set(&acct.regular),
		Conditional: new(big.Int).Set(&acct.conditional),
	}
}

// RegularBalance returns a copy of the user's regular balance.
func (v *Vault) RegularBalance(user string) *big.Int {
	return v.Balances(user).Regular
}

// ConditionalBalance returns a copy of the user's conditional balance.
func (v *Vault) ConditionalBalance(user string) *big.Int {
	return v.Balances(user).Conditional
}

// TotalSupply sums every user's regular balance.
func (v *Vault) TotalSupply() *big.Int {
	return v.sum(func(a *account) *big.Int { return &a.regular })
}

// ConditionalTotalSupply sums every user's conditional balance.
func (v *Vault) ConditionalTotalSupply() *big.Int {
	return v.sum(func(a *account) *big.Int { return &a.conditional })
}

func (v *Vault) sum(pick func(*account) *big.Int) *big.Int {
	v.mu.RLock()
	accts := make([]*account, 0, len(v.accounts))
	for _, a := range v.accounts {
		accts = append(accts, a)
	}
	v.mu.RUnlock()

	total := new(big.Int)
	for _, a := range accts {
		a.mu.Lock()
		total.Add(total, pick(a))
		a.mu.Unlock()
	}
	return total
}

// Finalize freezes the vault with the decided proposal outcome, enabling
// redemption. Further splits and merges fail with ErrVaultFrozen.
func (v *Vault) Finalize(outcome domain.ProposalStatus) error {
	if !outcome.Terminal() {
		return domain.Errf(v.proposalID, "vault.finalize",
			fmt.Errorf("outcome %q is not terminal", outcome))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == domain.VaultFinalized {
		return nil
	}
	v.status = domain.VaultFinalized
	v.outcome = outcome
	return nil
}

// RedeemWinning settles a user's conditional tokens after finalization. On a
// passed proposal conditional tokens redeem 1:1 back to regular tokens; on a
// failed one they are written off. Returns the amount redeemed.
func (v *Vault) RedeemWinning(user string) (*big.Int, error) {
	const op = "vault.redeem"
	v.mu.RLock()
	status, outcome := v.status, v.outcome
	v.mu.RUnlock()
	if status != domain.VaultFinalized {
		return nil, domain.Errf(v.proposalID, op, domain.ErrNotFinalized)
	}

	acct := v.getAccount(user)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	amount := new(big.Int).Set(&acct.conditional)
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	acct.conditional.SetInt64(0)
	if outcome == domain.ProposalPassed || outcome == domain.ProposalExecuted {
		acct.regular.Add(&acct.regular, amount)
		return amount, nil
	}
	// Losing conditional tokens are worthless; nothing is credited.
	return new(big.Int), nil
}
