package domain

import (
	"context"
	"math/big"
	"time"
)

// Tx is an opaque instruction submitted to the settlement layer, either on its
// own (payload execution) or as part of an atomic bundle. The engine never
// interprets Data; Kind and Memo exist for logging and audit.
type Tx struct {
	Kind       string
	ProposalID uint64
	Memo       string
	Data       []byte
}

// Receipt confirms a settlement-layer operation.
type Receipt struct {
	ID        string
	Timestamp time.Time
}

// Settlement is the regular token-transfer ledger backing vault deposits in a
// real deployment. The in-memory balance model inside the vault is an explicit
// off-chain simulation substitute for it.
type Settlement interface {
	Transfer(ctx context.Context, from, to string, asset AssetID, amount *big.Int) (Receipt, error)
}

// PoolID identifies a pool inside the external pool engine.
type PoolID string

// SwapDirection selects which side of the pool a trade buys.
type SwapDirection string

const (
	SwapBaseToQuote SwapDirection = "base_to_quote"
	SwapQuoteToBase SwapDirection = "quote_to_base"
)

// PoolState is a snapshot of a pool's reserves and spot price.
type PoolState struct {
	BaseReserve  *big.Int
	QuoteReserve *big.Int
	Price        float64
}

// PoolEngine is the external AMM the market facades delegate to. Curve math,
// fee accrual, and slippage live entirely behind this boundary.
type PoolEngine interface {
	CreatePool(ctx context.Context, assetA, assetB AssetID, amountA, amountB *big.Int) (PoolID, error)
	AddLiquidity(ctx context.Context, pool PoolID, amountA, amountB *big.Int) (Receipt, error)
	Swap(ctx context.Context, pool PoolID, direction SwapDirection, amount *big.Int, maxSlippageBps int, trader string) (Receipt, error)
	FetchPoolState(ctx context.Context, pool PoolID) (PoolState, error)
	WithdrawAllLiquidity(ctx context.Context, pool PoolID) (Receipt, error)
}

// BundleID identifies a submitted transaction bundle.
type BundleID string

// BundleStatus reports whether a bundle landed and in which slot.
type BundleStatus struct {
	Landed bool
	Slot   uint64
}

// BundleSubmitter is the MEV-protected atomic submission service. If Submit
// returns an id but AwaitLanded times out or reports non-landed, the caller
// must treat the whole bundle's effects as not-happened.
type BundleSubmitter interface {
	Submit(ctx context.Context, txs []Tx) (BundleID, error)
	AwaitLanded(ctx context.Context, id BundleID, timeout time.Duration) (BundleStatus, error)
}

// TxExecutor runs the one-shot payload transaction of a passed proposal.
type TxExecutor interface {
	ExecuteTx(ctx context.Context, payload Tx, signer string) (ExecutionResult, error)
}
