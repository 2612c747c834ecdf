package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/market"
	"github.com/futarchlabs/futarchd/internal/vault"
)

// defaultBundleTimeout bounds AwaitLanded when the config does not set one.
const defaultBundleTimeout = 60 * time.Second

// initPhase is one step of the initialization saga: build the bundle, confirm
// it landed, then apply the engine-side effects. Discard reverts in-memory
// handles when the phase's bundle never confirmed; nothing durable exists at
// that point, so rollback is discard, not compensate.
type initPhase struct {
	name    domain.InitPhase
	build   func(ctx context.Context) ([]domain.Tx, error)
	apply   func(ctx context.Context) error
	discard func()
}

// coordinator executes the initialization phases strictly in order, recording
// a durable completion marker per confirmed phase so a half-completed saga
// resumes at the first unconfirmed phase instead of restarting.
type coordinator struct {
	proposalID uint64
	bundles    domain.BundleSubmitter
	markers    domain.PhaseStore
	phases     []initPhase
	timeout    time.Duration
	logger     *slog.Logger
}

// newCoordinator wires the two-phase saga over this proposal: the vault phase
// first (conditional-asset identities must exist before markets referencing
// them), then the split-and-seed market phase.
func (p *Proposal) newCoordinator() *coordinator {
	timeout := p.cfg.BundleTimeout
	if timeout <= 0 {
		timeout = defaultBundleTimeout
	}
	return &coordinator{
		proposalID: p.id,
		bundles:    p.collab.Bundles,
		markers:    p.collab.Phases,
		timeout:    timeout,
		logger:     p.logger.With(slog.String("component", "init_coordinator")),
		phases: []initPhase{
			{
				name:    domain.PhaseVaults,
				build:   p.buildVaultPhase,
				apply:   p.applyVaultPhase,
				discard: p.discardVaults,
			},
			{
				name:  domain.PhaseMarkets,
				build: p.buildMarketPhase,
				apply: p.applyMarketPhase,
				// Vaults from the confirmed phase are durable and harmless if
				// markets never seed; the attempt is resumable, nothing to
				// discard.
				discard: func() {},
			},
		},
	}
}

// Run executes every phase in order. Without a bundle submitter it falls back
// to the sequential non-atomic path.
func (c *coordinator) Run(ctx context.Context) error {
	if c.bundles == nil {
		return c.runSequential(ctx)
	}

	for _, ph := range c.phases {
		if c.completed(ctx, ph.name) {
			// Confirmed in a prior attempt; rebuild local handles only.
			if err := ph.apply(ctx); err != nil {
				return domain.Errf(c.proposalID, "initialize",
					fmt.Errorf("phase %s: reapply: %w", ph.name, err))
			}
			c.logger.Info("phase already confirmed, resumed", slog.String("phase", string(ph.name)))
			continue
		}

		txs, err := ph.build(ctx)
		if err != nil {
			ph.discard()
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: build: %w", ph.name, err))
		}

		bundleID, err := c.bundles.Submit(ctx, txs)
		if err != nil {
			ph.discard()
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: submit: %w", ph.name, err))
		}
		c.logger.Info("bundle submitted",
			slog.String("phase", string(ph.name)),
			slog.String("bundle_id", string(bundleID)),
			slog.Int("txs", len(txs)),
		)

		status, err := c.bundles.AwaitLanded(ctx, bundleID, c.timeout)
		if err != nil {
			ph.discard()
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: bundle %s: %w", ph.name, bundleID, err))
		}
		if !status.Landed {
			// The bundle's effects are treated as not-happened.
			ph.discard()
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: bundle %s: %w", ph.name, bundleID, domain.ErrBundleNotLanded))
		}
		c.logger.Info("bundle landed",
			slog.String("phase", string(ph.name)),
			slog.String("bundle_id", string(bundleID)),
			slog.Uint64("slot", status.Slot),
		)

		if err := ph.apply(ctx); err != nil {
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: apply: %w", ph.name, err))
		}

		c.mark(ctx, ph.name, bundleID, status.Slot)
	}
	return nil
}

// runSequential performs the same logical steps without atomic bundling and
// without unwind-on-partial-failure guarantees. For environments lacking a
// bundle submission service.
func (c *coordinator) runSequential(ctx context.Context) error {
	for _, ph := range c.phases {
		if c.completed(ctx, ph.name) {
			if err := ph.apply(ctx); err != nil {
				return domain.Errf(c.proposalID, "initialize",
					fmt.Errorf("phase %s: reapply: %w", ph.name, err))
			}
			continue
		}
		if err := ph.apply(ctx); err != nil {
			return domain.Errf(c.proposalID, "initialize",
				fmt.Errorf("phase %s: %w", ph.name, err))
		}
		c.mark(ctx, ph.name, "", 0)
	}
	return nil
}

// completed reports whether a durable marker exists for the phase.
func (c *coordinator) completed(ctx context.Context, phase domain.InitPhase) bool {
	if c.markers == nil {
		return false
	}
	m, err := c.markers.Get(ctx, c.proposalID, phase)
	return err == nil && !m.CompletedAt.IsZero()
}

// mark records the phase-completion marker. Marker write failures are logged,
// not fatal: the in-memory initialization already succeeded, and the worst
// case on restart is re-running a confirmed phase's apply step.
func (c *coordinator) mark(ctx context.Context, phase domain.InitPhase, bundleID domain.BundleID, slot uint64) {
	if c.markers == nil {
		return
	}
	err := c.markers.Mark(ctx, domain.PhaseMarker{
		ProposalID:  c.proposalID,
		Phase:       phase,
		BundleID:    bundleID,
		LandedSlot:  slot,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("phase marker write failed",
			slog.String("phase", string(phase)),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Phase 1: vault provisioning
// ---------------------------------------------------------------------------

// ensureVaults constructs both vault handles if they do not exist yet. The
// conditional-asset derivation is deterministic, so handles rebuilt on a
// resumed attempt are identical to the originals.
func (p *Proposal) ensureVaults() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseVault != nil && p.quoteVault != nil {
		return nil
	}

	base, err := vault.New(vault.Config{
		ProposalID: p.id,
		Leg:        domain.LegBase,
		Underlying: p.cfg.BaseAsset,
	})
	if err != nil {
		return err
	}
	quote, err := vault.New(vault.Config{
		ProposalID: p.id,
		Leg:        domain.LegQuote,
		Underlying: p.cfg.QuoteAsset,
	})
	if err != nil {
		return err
	}
	p.baseVault, p.quoteVault = base, quote
	return nil
}

func (p *Proposal) buildVaultPhase(ctx context.Context) ([]domain.Tx, error) {
	if err := p.ensureVaults(); err != nil {
		return nil, err
	}
	return []domain.Tx{
		p.baseVault.BuildInitTx(),
		p.quoteVault.BuildInitTx(),
	}, nil
}

func (p *Proposal) applyVaultPhase(ctx context.Context) error {
	if err := p.ensureVaults(); err != nil {
		return err
	}
	p.baseVault.Activate()
	p.quoteVault.Activate()
	return nil
}

func (p *Proposal) discardVaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseVault, p.quoteVault = nil, nil
}

// ---------------------------------------------------------------------------
// Phase 2: split and market seeding
// ---------------------------------------------------------------------------

// ensureMarkets constructs both market facades over the vaults' conditional
// asset pair. Requires the vault phase to have run.
func (p *Proposal) ensureMarkets() error {
	if err := p.ensureVaults(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.passMkt != nil && p.failMkt != nil {
		return nil
	}

	condBase := p.baseVault.ConditionalAsset()
	condQuote := p.quoteVault.ConditionalAsset()
	p.passMkt = market.New(market.Config{
		ProposalID: p.id,
		Side:       domain.MarketPass,
		BaseAsset:  condBase,
		QuoteAsset: condQuote,
	}, p.collab.Pools, p.logger)
	p.failMkt = market.New(market.Config{
		ProposalID: p.id,
		Side:       domain.MarketFail,
		BaseAsset:  condBase,
		QuoteAsset: condQuote,
	}, p.collab.Pools, p.logger)
	return nil
}

func (p *Proposal) buildSplitTx(v *vault.Vault, amount *big.Int) domain.Tx {
	return domain.Tx{
		Kind:       "vault_split",
		ProposalID: p.id,
		Memo: fmt.Sprintf("split | proposal #%d | leg %s | user %s | amount %s",
			p.id, v.Leg(), p.authority, amount),
	}
}

func (p *Proposal) buildMarketPhase(ctx context.Context) ([]domain.Tx, error) {
	if err := p.ensureMarkets(); err != nil {
		return nil, err
	}
	return []domain.Tx{
		p.buildSplitTx(p.baseVault, p.cfg.SeedBase),
		p.buildSplitTx(p.quoteVault, p.cfg.SeedQuote),
		p.passMkt.BuildInitTx(p.cfg.SeedBase, p.cfg.SeedQuote),
		p.failMkt.BuildInitTx(p.cfg.SeedBase, p.cfg.SeedQuote),
	}, nil
}

// applyMarketPhase seeds both legs through the vaults and initializes both
// markets with conservation-equal conditional liquidity. The two market
// initializations are issued in parallel and joined before the phase settles.
func (p *Proposal) applyMarketPhase(ctx context.Context) error {
	if err := p.ensureMarkets(); err != nil {
		return err
	}

	if err := p.seedLeg(ctx, p.baseVault, p.cfg.SeedBase); err != nil {
		return err
	}
	if err := p.seedLeg(ctx, p.quoteVault, p.cfg.SeedQuote); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, mkt := range []*market.Facade{p.passMkt, p.failMkt} {
		g.Go(func() error {
			if mkt.State() != market.StateUninitialized {
				return nil
			}
			return mkt.Initialize(gctx, p.cfg.SeedBase, p.cfg.SeedQuote)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.twap.SetMarkets(p.passMkt, p.failMkt)
	return nil
}

// seedLeg escrows the seed amount from the authority at the settlement layer,
// credits it as regular balance, and splits it into conditional tokens.
func (p *Proposal) seedLeg(ctx context.Context, v *vault.Vault, seed *big.Int) error {
	if v.Status() == domain.VaultUninitialized {
		v.Activate()
	}
	// Skip on resume: the split already happened for this leg.
	if v.ConditionalBalance(p.authority).Sign() > 0 {
		return nil
	}

	if p.collab.Settlement != nil {
		escrow := fmt.Sprintf("vault-escrow-%d-%s", p.id, v.Leg())
		if _, err := p.collab.Settlement.Transfer(ctx, p.authority, escrow, v.UnderlyingAsset(), seed); err != nil {
			return fmt.Errorf("escrow %s leg: %w", v.Leg(), err)
		}
	}
	if err := v.Deposit(p.authority, seed); err != nil {
		return err
	}
	return v.Split(p.authority, seed)
}
