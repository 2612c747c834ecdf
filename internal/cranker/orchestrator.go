// Package cranker drives pending proposals forward on a fixed interval: it
// records oracle observations, mirrors the latest prices into the cache,
// publishes lifecycle events, and finalizes proposals whose voting window has
// closed.
package cranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/notify"
	"github.com/futarchlabs/futarchd/internal/proposal"
)

// Deps bundles the orchestrator's collaborators. Everything except Moderator
// is optional; a nil dependency simply skips that side effect.
type Deps struct {
	Moderator    *moderator.Moderator
	Proposals    domain.ProposalStore
	Observations domain.ObservationStore
	Prices       domain.PriceCache
	Locks        domain.LockManager
	Bus          domain.SignalBus
	Archiver     domain.ProposalArchiver
	Notifier     *notify.Notifier
	Logger       *slog.Logger
}

// Config holds the crank loop parameters.
type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
	// Archive controls whether finalized proposals are snapshotted to blob
	// storage.
	Archive bool
}

// Orchestrator runs the crank loop.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	clock  func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Moderator == nil {
		return nil, fmt.Errorf("cranker: moderator is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("cranker: interval must be positive")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "cranker")),
		clock:  time.Now,
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (o *Orchestrator) SetClock(clock func() time.Time) {
	o.clock = clock
}

// Run ticks until the context is cancelled. It returns the context's error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("crank loop started", slog.Duration("interval", o.cfg.Interval))
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("crank loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one pass over all pending proposals. Per-proposal failures are
// logged and never stop the pass.
func (o *Orchestrator) Tick(ctx context.Context) {
	for _, p := range o.deps.Moderator.Pending() {
		if err := o.crankOne(ctx, p); err != nil {
			o.logger.Error("crank failed",
				slog.Uint64("proposal_id", p.ID()),
				slog.String("error", err.Error()),
			)
		}

		if !o.clock().Before(p.FinalizedAt()) {
			if err := o.finalizeOne(ctx, p); err != nil {
				o.logger.Error("finalize failed",
					slog.Uint64("proposal_id", p.ID()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (o *Orchestrator) crankOne(ctx context.Context, p *proposal.Proposal) error {
	obs, recorded, err := p.Crank(ctx)
	if err != nil {
		return err
	}
	if !recorded {
		return nil
	}

	if o.deps.Observations != nil {
		if err := o.deps.Observations.Insert(ctx, obs); err != nil {
			o.logger.Warn("observation not persisted",
				slog.Uint64("proposal_id", obs.ProposalID),
				slog.String("error", err.Error()),
			)
		}
	}
	if o.deps.Prices != nil {
		if err := o.deps.Prices.SetPrices(ctx, obs.ProposalID, obs.PassPrice, obs.FailPrice, obs.Timestamp); err != nil {
			o.logger.Warn("price cache not updated",
				slog.Uint64("proposal_id", obs.ProposalID),
				slog.String("error", err.Error()),
			)
		}
	}
	o.publish(ctx, "cranked", map[string]any{
		"proposal_id": obs.ProposalID,
		"pass_price":  obs.PassPrice,
		"fail_price":  obs.FailPrice,
		"timestamp":   obs.Timestamp,
	})
	return nil
}

// finalizeOne drives one proposal through finalization under the distributed
// finalize lock, then persists, archives, and announces the decision.
func (o *Orchestrator) finalizeOne(ctx context.Context, p *proposal.Proposal) error {
	if o.deps.Locks != nil {
		unlock, err := o.deps.Locks.Acquire(ctx, fmt.Sprintf("finalize:%d", p.ID()), o.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another crank process is finalizing this proposal.
				return nil
			}
			return err
		}
		defer unlock()
	}

	status, err := p.Finalize(ctx)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return nil
	}

	rec := p.Record()
	if o.deps.Proposals != nil {
		if err := o.deps.Proposals.UpdateStatus(ctx, rec.ID, rec.Status, rec.TWAPPass, rec.TWAPFail); err != nil {
			o.logger.Warn("status not persisted",
				slog.Uint64("proposal_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if o.cfg.Archive && o.deps.Archiver != nil {
		key, err := o.deps.Archiver.ArchiveProposal(ctx, rec, p.Oracle().Observations())
		if err != nil {
			o.logger.Warn("archive failed",
				slog.Uint64("proposal_id", rec.ID),
				slog.String("error", err.Error()),
			)
		} else {
			o.logger.Info("proposal archived",
				slog.Uint64("proposal_id", rec.ID),
				slog.String("key", key),
			)
		}
	}

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.ProposalFinalized(ctx, rec); err != nil {
			o.logger.Warn("finalize notification failed",
				slog.Uint64("proposal_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.publish(ctx, "finalized", map[string]any{
		"proposal_id": rec.ID,
		"status":      string(rec.Status),
		"twap_pass":   rec.TWAPPass,
		"twap_fail":   rec.TWAPFail,
	})
	return nil
}

// publish sends an event to the pub/sub channel and appends it to the durable
// stream. Best-effort: failures are logged.
func (o *Orchestrator) publish(ctx context.Context, event string, detail map[string]any) {
	if o.deps.Bus == nil {
		return
	}
	detail["event"] = event
	payload, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, "proposals:"+event, payload); err != nil {
		o.logger.Debug("publish failed", slog.String("event", event), slog.String("error", err.Error()))
	}
	if err := o.deps.Bus.StreamAppend(ctx, domain.LifecycleStream, payload); err != nil {
		o.logger.Debug("stream append failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
