package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/futarchlabs/futarchd/internal/cranker"
	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/server"
	"github.com/futarchlabs/futarchd/internal/server/handler"
)

// ServerMode runs the HTTP API without the crank loop. Proposals can be
// created, traded, and cranked manually through the API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// CrankMode runs the oracle crank loop without the HTTP API.
func (a *App) CrankMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting crank mode")

	orch, err := a.newOrchestrator(deps)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// FullMode runs both the HTTP API and the crank loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	orch, err := a.newOrchestrator(deps)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// startHTTPServer adds the API server and its shutdown watcher to the given
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Proposals: handler.NewProposalHandler(deps.Moderator, deps.ObservationStore, deps.Notifier, a.logger),
			Vaults:    handler.NewVaultHandler(deps.Moderator, a.logger),
			Markets:   handler.NewMarketHandler(deps.Moderator, deps.PriceCache, a.logger),
			Events:    handler.NewEventsHandler(deps.SignalBus, a.logger),
			Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) newOrchestrator(deps *Dependencies) (*cranker.Orchestrator, error) {
	orch, err := cranker.New(
		cranker.Config{
			Interval: a.cfg.Crank.Interval.Duration,
			LockTTL:  a.cfg.Crank.LockTTL.Duration,
			Archive:  a.cfg.Crank.ArchiveOnEnd,
		},
		cranker.Deps{
			Moderator:    deps.Moderator,
			Proposals:    deps.ProposalStore,
			Observations: deps.ObservationStore,
			Prices:       deps.PriceCache,
			Locks:        deps.LockManager,
			Bus:          deps.SignalBus,
			Archiver:     deps.Archiver,
			Notifier:     deps.Notifier,
			Logger:       a.logger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("app: cranker: %w", err)
	}
	return orch, nil
}

// SimMode drives one proposal through its entire lifecycle in memory with a
// stepped clock, logging each stage. It exercises the same code paths the
// live modes use, minus external infrastructure.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	now := time.Now().UTC()
	deps.Moderator.SetClock(func() time.Time { return now })

	p, err := deps.Moderator.CreateProposal(ctx, "raise protocol fee to 30 bps", domain.Tx{
		Kind: "config_update",
		Memo: "fee=30bps",
		Data: []byte(`{"fee_bps":30}`),
	})
	if err != nil {
		return fmt.Errorf("sim: create proposal: %w", err)
	}

	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("sim: initialize: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: proposal initialized",
		slog.Uint64("proposal_id", p.ID()),
		slog.Time("finalized_at", p.FinalizedAt()),
	)

	passMkt, _, err := p.Markets()
	if err != nil {
		return fmt.Errorf("sim: markets: %w", err)
	}

	// Step past the ignore window, then alternate trades and cranks so the
	// pass market accumulates a TWAP above the fail market's.
	now = now.Add(a.cfg.TWAP.StartDelay.Duration + time.Minute)
	buy := big.NewInt(10_000_000)
	for i := 0; i < 10; i++ {
		if _, err := passMkt.Trade(ctx, domain.SwapQuoteToBase, buy, 10_000, "sim-trader"); err != nil {
			return fmt.Errorf("sim: trade: %w", err)
		}
		obs, accepted, err := p.Crank(ctx)
		if err != nil {
			return fmt.Errorf("sim: crank: %w", err)
		}
		if accepted {
			a.logger.InfoContext(ctx, "sim: observation recorded",
				slog.Float64("pass_price", obs.PassPrice),
				slog.Float64("fail_price", obs.FailPrice),
			)
		}
		now = now.Add(time.Minute)
	}

	twapPass, twapFail, err := p.Oracle().Averages()
	if err != nil {
		return fmt.Errorf("sim: averages: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: voting window closing",
		slog.Float64("twap_pass", twapPass),
		slog.Float64("twap_fail", twapFail),
	)

	now = p.FinalizedAt().Add(time.Second)
	status, err := p.Finalize(ctx)
	if err != nil {
		return fmt.Errorf("sim: finalize: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: proposal finalized",
		slog.String("status", string(status)),
	)

	if status == domain.ProposalPassed {
		res, err := p.Execute(ctx)
		if err != nil {
			return fmt.Errorf("sim: execute: %w", err)
		}
		a.logger.InfoContext(ctx, "sim: payload executed",
			slog.String("status", string(res.Status)),
			slog.String("signature", res.Signature),
		)
	}

	a.logger.InfoContext(ctx, "sim: run complete",
		slog.String("final_status", string(p.Status())),
	)
	return nil
}
