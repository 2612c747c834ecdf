// Package oracle implements the time-weighted-average-price decision oracle.
// It accumulates clamped price observations from the pass and fail markets and
// reduces them to a single passing/failing decision against a basis-point
// threshold.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// PriceSource is the read side of a market facade: a single spot price.
type PriceSource interface {
	FetchPrice(ctx context.Context) (float64, error)
}

// Config holds oracle parameters.
type Config struct {
	// StartDelay: observations earlier than createdAt+StartDelay are ignored.
	StartDelay time.Duration
	// MaxChangePerUpdate clamps the accepted price movement per observation,
	// in absolute price units. Zero disables clamping.
	MaxChangePerUpdate float64
	// PassThresholdBps is the decision boundary on the pass/fail TWAP ratio,
	// in basis points (10000 = ratio 1.0).
	PassThresholdBps int64
}

// TWAP accumulates observations for one proposal. All methods are safe for
// concurrent use.
type TWAP struct {
	proposalID uint64
	createdAt  time.Time
	cfg        Config
	logger     *slog.Logger

	mu             sync.Mutex
	passSrc        PriceSource
	failSrc        PriceSource
	observations   []domain.Observation
	cumulativePass float64
	cumulativeFail float64
	lastPass       float64
	lastFail       float64
	firstObsAt     time.Time
	lastObsAt      time.Time
	lastCrankedAt  time.Time
	frozen         bool

	clock func() time.Time
}

// New creates a TWAP oracle for the given proposal.
func New(proposalID uint64, createdAt time.Time, cfg Config, logger *slog.Logger) *TWAP {
	return &TWAP{
		proposalID: proposalID,
		createdAt:  createdAt,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "twap"), slog.Uint64("proposal_id", proposalID)),
		clock:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *TWAP) SetClock(clock func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
}

// SetMarkets attaches the pass and fail price sources. Crank fails until both
// are set.
func (t *TWAP) SetMarkets(pass, fail PriceSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passSrc, t.failSrc = pass, fail
}

// Freeze stops the oracle from accepting further observations. Called once the
// proposal reaches a terminal status.
func (t *TWAP) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// clamp limits the movement from prev to next to ±MaxChangePerUpdate.
func (t *TWAP) clamp(prev, next float64) float64 {
	max := t.cfg.MaxChangePerUpdate
	if max <= 0 {
		return next
	}
	if next > prev+max {
		return prev + max
	}
	if next < prev-max {
		return prev - max
	}
	return next
}

// RecordObservation folds a price sample into the cumulative weighted sums.
// Samples before createdAt+StartDelay are ignored. Each price delta from the
// prior accepted observation is clamped before weighting, so a single outlier
// sample cannot swing the average proportionally. Returns the accepted
// observation and whether it was recorded.
func (t *TWAP) RecordObservation(passPrice, failPrice float64, ts time.Time) (domain.Observation, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return domain.Observation{}, false, nil
	}
	if ts.Before(t.createdAt.Add(t.cfg.StartDelay)) {
		return domain.Observation{}, false, nil
	}
	// Never reorder: samples at or before the last accepted one are dropped.
	if !t.lastObsAt.IsZero() && !ts.After(t.lastObsAt) {
		return domain.Observation{}, false, nil
	}

	if t.firstObsAt.IsZero() {
		// Baseline sample: no prior price to clamp against, no elapsed weight.
		t.firstObsAt = ts
	} else {
		passPrice = t.clamp(t.lastPass, passPrice)
		failPrice = t.clamp(t.lastFail, failPrice)
		elapsed := ts.Sub(t.lastObsAt).Seconds()
		t.cumulativePass += passPrice * elapsed
		t.cumulativeFail += failPrice * elapsed
	}

	t.lastPass, t.lastFail = passPrice, failPrice
	t.lastObsAt = ts

	obs := domain.Observation{
		ProposalID: t.proposalID,
		Timestamp:  ts,
		PassPrice:  passPrice,
		FailPrice:  failPrice,
	}
	t.observations = append(t.observations, obs)
	return obs, true, nil
}

// Crank fetches a fresh price from both markets and records the observation.
// Re-cranking within the same instant is a no-op, so the same sample is never
// double-counted. The instant is only marked consumed after a successful
// fetch, so a retry after a source error can still record.
func (t *TWAP) Crank(ctx context.Context) (domain.Observation, bool, error) {
	t.mu.Lock()
	passSrc, failSrc := t.passSrc, t.failSrc
	frozen := t.frozen
	now := t.clock()
	if !t.lastCrankedAt.Before(now) {
		t.mu.Unlock()
		return domain.Observation{}, false, nil
	}
	t.mu.Unlock()

	if frozen {
		return domain.Observation{}, false, nil
	}
	if passSrc == nil || failSrc == nil {
		return domain.Observation{}, false, domain.Errf(t.proposalID, "twap.crank",
			fmt.Errorf("markets not attached: %w", domain.ErrNotInitialized))
	}

	passPrice, err := passSrc.FetchPrice(ctx)
	if err != nil {
		return domain.Observation{}, false, domain.Errf(t.proposalID, "twap.crank",
			fmt.Errorf("fetch pass price: %w", err))
	}
	failPrice, err := failSrc.FetchPrice(ctx)
	if err != nil {
		return domain.Observation{}, false, domain.Errf(t.proposalID, "twap.crank",
			fmt.Errorf("fetch fail price: %w", err))
	}

	obs, recorded, err := t.RecordObservation(passPrice, failPrice, now)
	if err != nil {
		return domain.Observation{}, false, err
	}
	t.mu.Lock()
	if now.After(t.lastCrankedAt) {
		t.lastCrankedAt = now
	}
	t.mu.Unlock()
	if recorded {
		t.logger.Debug("observation recorded",
			slog.Float64("pass_price", obs.PassPrice),
			slog.Float64("fail_price", obs.FailPrice),
			slog.Time("at", obs.Timestamp),
		)
	}
	return obs, recorded, nil
}

// Averages returns the current pass and fail TWAPs. With a single observation
// the spot sample stands in for the average.
func (t *TWAP) Averages() (twapPass, twapFail float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averagesLocked()
}

func (t *TWAP) averagesLocked() (float64, float64, error) {
	if t.firstObsAt.IsZero() {
		return 0, 0, domain.Errf(t.proposalID, "twap.decision", domain.ErrInsufficientData)
	}
	total := t.lastObsAt.Sub(t.firstObsAt).Seconds()
	if total <= 0 {
		return t.lastPass, t.lastFail, nil
	}
	return t.cumulativePass / total, t.cumulativeFail / total, nil
}

// Decision compares the pass/fail TWAP ratio against the threshold. It is a
// pure read of accumulated state and fails with ErrInsufficientData before the
// first valid observation.
func (t *TWAP) Decision() (domain.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	twapPass, twapFail, err := t.averagesLocked()
	if err != nil {
		return "", err
	}
	if twapFail <= 0 {
		if twapPass > 0 {
			return domain.DecisionPassing, nil
		}
		return "", domain.Errf(t.proposalID, "twap.decision", domain.ErrInsufficientData)
	}

	ratioBps := int64(twapPass / twapFail * 10_000)
	if ratioBps >= t.cfg.PassThresholdBps {
		return domain.DecisionPassing, nil
	}
	return domain.DecisionFailing, nil
}

// Observations returns a copy of the insertion-ordered observation history.
func (t *TWAP) Observations() []domain.Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Observation, len(t.observations))
	copy(out, t.observations)
	return out
}
