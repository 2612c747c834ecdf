// Package sim provides in-memory implementations of the external
// collaborators: pool engine, settlement ledger, bundle submitter, payload
// executor, and lock manager. They back the sim run mode and the test suite;
// the in-memory balance model is the explicit off-chain substitute for a real
// deployment's settlement layer.
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

// pool is a constant-product pool over two assets.
type pool struct {
	base         domain.AssetID
	quote        domain.AssetID
	baseReserve  *big.Int
	quoteReserve *big.Int
	finalized    bool
}

func (p *pool) price() float64 {
	br, _ := new(big.Float).SetInt(p.baseReserve).Float64()
	qr, _ := new(big.Float).SetInt(p.quoteReserve).Float64()
	if br <= 0 {
		return 0
	}
	return qr / br
}

// PoolEngine is an in-memory constant-product AMM.
type PoolEngine struct {
	mu    sync.Mutex
	pools map[domain.PoolID]*pool
	seq   int
}

// NewPoolEngine creates an empty engine.
func NewPoolEngine() *PoolEngine {
	return &PoolEngine{pools: make(map[domain.PoolID]*pool)}
}

// CreatePool seeds a new pool with the given reserves.
func (e *PoolEngine) CreatePool(ctx context.Context, assetA, assetB domain.AssetID, amountA, amountB *big.Int) (domain.PoolID, error) {
	if amountA == nil || amountA.Sign() <= 0 || amountB == nil || amountB.Sign() <= 0 {
		return "", domain.ErrNonPositiveAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := domain.PoolID(fmt.Sprintf("sim-pool-%d", e.seq))
	e.pools[id] = &pool{
		base:         assetA,
		quote:        assetB,
		baseReserve:  new(big.Int).Set(amountA),
		quoteReserve: new(big.Int).Set(amountB),
	}
	return id, nil
}

func (e *PoolEngine) get(id domain.PoolID) (*pool, error) {
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// AddLiquidity deposits reserves into both sides of the pool.
func (e *PoolEngine) AddLiquidity(ctx context.Context, id domain.PoolID, amountA, amountB *big.Int) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if p.finalized {
		return domain.Receipt{}, domain.ErrAMMFinalized
	}
	p.baseReserve.Add(p.baseReserve, amountA)
	p.quoteReserve.Add(p.quoteReserve, amountB)
	return receipt(), nil
}

// Swap executes a constant-product trade. Slippage limits are accepted but
// not enforced; the sim engine has no competing flow.
func (e *PoolEngine) Swap(ctx context.Context, id domain.PoolID, direction domain.SwapDirection, amount *big.Int, maxSlippageBps int, trader string) (domain.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Receipt{}, domain.ErrNonPositiveAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if p.finalized {
		return domain.Receipt{}, domain.ErrAMMFinalized
	}

	// x*y = k; the output side keeps k constant.
	in, out := p.baseReserve, p.quoteReserve
	if direction == domain.SwapQuoteToBase {
		in, out = out, in
	}
	k := new(big.Int).Mul(in, out)
	in.Add(in, amount)
	newOut := new(big.Int).Div(k, in)
	out.Set(newOut)
	return receipt(), nil
}

// FetchPoolState returns a copy of the pool's reserves and spot price.
func (e *PoolEngine) FetchPoolState(ctx context.Context, id domain.PoolID) (domain.PoolState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(id)
	if err != nil {
		return domain.PoolState{}, err
	}
	return domain.PoolState{
		BaseReserve:  new(big.Int).Set(p.baseReserve),
		QuoteReserve: new(big.Int).Set(p.quoteReserve),
		Price:        p.price(),
	}, nil
}

// WithdrawAllLiquidity zeroes the pool and marks it finalized.
func (e *PoolEngine) WithdrawAllLiquidity(ctx context.Context, id domain.PoolID) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.get(id)
	if err != nil {
		return domain.Receipt{}, err
	}
	if p.finalized {
		return domain.Receipt{}, domain.ErrAMMFinalized
	}
	p.finalized = true
	p.baseReserve.SetInt64(0)
	p.quoteReserve.SetInt64(0)
	return receipt(), nil
}

func receipt() domain.Receipt {
	return domain.Receipt{ID: uuid.New().String(), Timestamp: time.Now().UTC()}
}

// Compile-time interface check.
var _ domain.PoolEngine = (*PoolEngine)(nil)
