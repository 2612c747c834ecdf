package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// Ledger is an in-memory token-transfer ledger implementing
// domain.Settlement. Accounts must be funded before they can transfer.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[domain.AssetID]*big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[domain.AssetID]*big.Int)}
}

func (l *Ledger) balance(account string, asset domain.AssetID) *big.Int {
	accts, ok := l.balances[account]
	if !ok {
		accts = make(map[domain.AssetID]*big.Int)
		l.balances[account] = accts
	}
	bal, ok := accts[asset]
	if !ok {
		bal = new(big.Int)
		accts[asset] = bal
	}
	return bal
}

// Fund credits an account directly, outside any transfer.
func (l *Ledger) Fund(account string, asset domain.AssetID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(account, asset).Add(l.balance(account, asset), amount)
}

// Balance returns a copy of an account's holding of one asset.
func (l *Ledger) Balance(account string, asset domain.AssetID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(account, asset))
}

// Transfer moves amount of asset between accounts.
func (l *Ledger) Transfer(ctx context.Context, from, to string, asset domain.AssetID, amount *big.Int) (domain.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Receipt{}, domain.ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balance(from, asset)
	if src.Cmp(amount) < 0 {
		return domain.Receipt{}, fmt.Errorf("account %s asset %s: available %s, requested %s: %w",
			from, asset, src, amount, domain.ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := l.balance(to, asset)
	dst.Add(dst, amount)
	return domain.Receipt{ID: uuid.New().String(), Timestamp: time.Now().UTC()}, nil
}

var _ domain.Settlement = (*Ledger)(nil)
