package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest pass/fail prices per proposal.
type PriceCache interface {
	SetPrices(ctx context.Context, proposalID uint64, passPrice, failPrice float64, ts time.Time) error
	GetPrices(ctx context.Context, proposalID uint64) (passPrice, failPrice float64, ts time.Time, err error)
}

// LockManager provides distributed locking. Finalize for a given proposal is
// single-flight across processes through it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LifecycleStream is the durable stream that lifecycle events are appended to
// and that the events API reads back.
const LifecycleStream = "proposals:events"

// StreamMessage is a single entry read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes lifecycle events (initialized, cranked, finalized,
// executed) to subscribers and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
