package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each proposal's latest conditional-market prices are stored as a hash at key
// "twap:{proposalID}" with fields "pass", "fail", and "ts" (Unix nanosecond
// timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func twapKey(proposalID uint64) string {
	return "twap:" + strconv.FormatUint(proposalID, 10)
}

// SetPrices stores the latest pass/fail prices for a proposal.
func (pc *PriceCache) SetPrices(ctx context.Context, proposalID uint64, passPrice, failPrice float64, ts time.Time) error {
	fields := map[string]interface{}{
		"pass": strconv.FormatFloat(passPrice, 'f', -1, 64),
		"fail": strconv.FormatFloat(failPrice, 'f', -1, 64),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, twapKey(proposalID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set prices for proposal %d: %w", proposalID, err)
	}
	return nil
}

// GetPrices retrieves the latest pass/fail prices for a proposal.
// It returns domain.ErrNotFound when no prices have been cached yet.
func (pc *PriceCache) GetPrices(ctx context.Context, proposalID uint64) (float64, float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, twapKey(proposalID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get prices for proposal %d: %w", proposalID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	pass, err := parseField(vals, "pass")
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: proposal %d: %w", proposalID, err)
	}
	fail, err := parseField(vals, "fail")
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: proposal %d: %w", proposalID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: proposal %d: parse ts: %w", proposalID, err)
	}

	return pass, fail, time.Unix(0, tsNano), nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
