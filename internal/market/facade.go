// Package market provides the facade through which the decision engine
// observes and controls the two conditional markets. The facade owns the
// market's lifecycle state; swap math, fees, and slippage are delegated
// entirely to the external pool engine.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// State is the facade's lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateTrading       State = "trading"
	StateFinalized     State = "finalized"
)

// Config identifies the market and the conditional asset pair it trades.
type Config struct {
	ProposalID uint64
	Side       domain.MarketSide
	BaseAsset  domain.AssetID
	QuoteAsset domain.AssetID
}

// Facade wraps one conditional market (pass or fail) behind a small
// price-source-plus-liquidity-controller surface.
type Facade struct {
	proposalID uint64
	side       domain.MarketSide
	base       domain.AssetID
	quote      domain.AssetID
	engine     domain.PoolEngine
	logger     *slog.Logger

	mu    sync.Mutex
	state State
	pool  domain.PoolID
}

// New creates an uninitialized Facade over the given pool engine.
func New(cfg Config, engine domain.PoolEngine, logger *slog.Logger) *Facade {
	return &Facade{
		proposalID: cfg.ProposalID,
		side:       cfg.Side,
		base:       cfg.BaseAsset,
		quote:      cfg.QuoteAsset,
		engine:     engine,
		logger: logger.With(
			slog.String("component", "market"),
			slog.Uint64("proposal_id", cfg.ProposalID),
			slog.String("side", string(cfg.Side)),
		),
		state: StateUninitialized,
	}
}

// Side returns which conditional market this facade fronts.
func (f *Facade) Side() domain.MarketSide { return f.side }

// State returns the current lifecycle state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pool returns the pool handle, valid once trading.
func (f *Facade) Pool() domain.PoolID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pool
}

func (f *Facade) op(name string) string {
	return fmt.Sprintf("market[%s].%s", f.side, name)
}

// guard returns the precondition error for any call other than Initialize in
// the current state, or nil when trading.
func (f *Facade) guard(op string) error {
	switch f.state {
	case StateUninitialized:
		return domain.Errf(f.proposalID, op, domain.ErrPoolUninitialized)
	case StateFinalized:
		return domain.Errf(f.proposalID, op, domain.ErrAMMFinalized)
	}
	return nil
}

// BuildInitTx returns the instruction that creates this market at the
// settlement layer, for inclusion in the seeding bundle.
func (f *Facade) BuildInitTx(baseAmount, quoteAmount *big.Int) domain.Tx {
	return domain.Tx{
		Kind:       "market_init",
		ProposalID: f.proposalID,
		Memo: fmt.Sprintf("market init | proposal #%d | side %s | %s/%s | seed %s/%s",
			f.proposalID, f.side, f.base, f.quote, baseAmount, quoteAmount),
	}
}

// Initialize creates the pool seeded with the given conditional-token
// liquidity and moves the facade to trading.
func (f *Facade) Initialize(ctx context.Context, baseAmount, quoteAmount *big.Int) error {
	op := f.op("initialize")
	if baseAmount == nil || baseAmount.Sign() <= 0 || quoteAmount == nil || quoteAmount.Sign() <= 0 {
		return domain.Errf(f.proposalID, op, domain.ErrNonPositiveAmount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateTrading:
		return domain.Errf(f.proposalID, op, domain.ErrAlreadySeeded)
	case StateFinalized:
		return domain.Errf(f.proposalID, op, domain.ErrAMMFinalized)
	}

	pool, err := f.engine.CreatePool(ctx, f.base, f.quote, baseAmount, quoteAmount)
	if err != nil {
		return domain.Errf(f.proposalID, op, fmt.Errorf("create pool: %w", err))
	}
	f.pool = pool
	f.state = StateTrading
	f.logger.Info("market seeded", slog.String("pool", string(pool)))
	return nil
}

// FetchPrice returns the market's current spot price from the pool engine.
func (f *Facade) FetchPrice(ctx context.Context) (float64, error) {
	op := f.op("fetch_price")
	f.mu.Lock()
	if err := f.guard(op); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	pool := f.pool
	f.mu.Unlock()

	state, err := f.engine.FetchPoolState(ctx, pool)
	if err != nil {
		return 0, domain.Errf(f.proposalID, op, err)
	}
	return state.Price, nil
}

// FetchState returns the full pool snapshot.
func (f *Facade) FetchState(ctx context.Context) (domain.PoolState, error) {
	op := f.op("fetch_state")
	f.mu.Lock()
	if err := f.guard(op); err != nil {
		f.mu.Unlock()
		return domain.PoolState{}, err
	}
	pool := f.pool
	f.mu.Unlock()

	state, err := f.engine.FetchPoolState(ctx, pool)
	if err != nil {
		return domain.PoolState{}, domain.Errf(f.proposalID, op, err)
	}
	return state, nil
}

// AddLiquidity deposits additional liquidity into the pool.
func (f *Facade) AddLiquidity(ctx context.Context, baseAmount, quoteAmount *big.Int) (domain.Receipt, error) {
	op := f.op("add_liquidity")
	if baseAmount == nil || baseAmount.Sign() <= 0 || quoteAmount == nil || quoteAmount.Sign() <= 0 {
		return domain.Receipt{}, domain.Errf(f.proposalID, op, domain.ErrNonPositiveAmount)
	}

	f.mu.Lock()
	if err := f.guard(op); err != nil {
		f.mu.Unlock()
		return domain.Receipt{}, err
	}
	pool := f.pool
	f.mu.Unlock()

	receipt, err := f.engine.AddLiquidity(ctx, pool, baseAmount, quoteAmount)
	if err != nil {
		return domain.Receipt{}, domain.Errf(f.proposalID, op, err)
	}
	return receipt, nil
}

// RemoveLiquidity withdraws all liquidity and finalizes the facade. A second
// call fails with ErrAMMFinalized.
func (f *Facade) RemoveLiquidity(ctx context.Context) (domain.Receipt, error) {
	op := f.op("remove_liquidity")
	f.mu.Lock()
	if err := f.guard(op); err != nil {
		f.mu.Unlock()
		return domain.Receipt{}, err
	}
	pool := f.pool
	f.mu.Unlock()

	receipt, err := f.engine.WithdrawAllLiquidity(ctx, pool)
	if err != nil {
		return domain.Receipt{}, domain.Errf(f.proposalID, op, err)
	}

	f.mu.Lock()
	f.state = StateFinalized
	f.mu.Unlock()
	f.logger.Info("liquidity withdrawn, market finalized", slog.String("receipt", receipt.ID))
	return receipt, nil
}

// Trade executes a swap against the pool on behalf of trader.
func (f *Facade) Trade(ctx context.Context, direction domain.SwapDirection, amount *big.Int, maxSlippageBps int, trader string) (domain.Receipt, error) {
	op := f.op("trade")
	if amount == nil || amount.Sign() <= 0 {
		return domain.Receipt{}, domain.Errf(f.proposalID, op, domain.ErrNonPositiveAmount)
	}

	f.mu.Lock()
	if err := f.guard(op); err != nil {
		f.mu.Unlock()
		return domain.Receipt{}, err
	}
	pool := f.pool
	f.mu.Unlock()

	receipt, err := f.engine.Swap(ctx, pool, direction, amount, maxSlippageBps, trader)
	if err != nil {
		return domain.Receipt{}, domain.Errf(f.proposalID, op, err)
	}
	return receipt, nil
}
