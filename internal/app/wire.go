package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	s3blob "github.com/futarchlabs/futarchd/internal/blob/s3"
	"github.com/futarchlabs/futarchd/internal/cache/redis"
	"github.com/futarchlabs/futarchd/internal/config"
	"github.com/futarchlabs/futarchd/internal/domain"
	"github.com/futarchlabs/futarchd/internal/moderator"
	"github.com/futarchlabs/futarchd/internal/notify"
	"github.com/futarchlabs/futarchd/internal/oracle"
	"github.com/futarchlabs/futarchd/internal/platform/bundler"
	"github.com/futarchlabs/futarchd/internal/proposal"
	"github.com/futarchlabs/futarchd/internal/sim"
	"github.com/futarchlabs/futarchd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	ProposalStore    domain.ProposalStore
	ObservationStore domain.ObservationStore
	PhaseStore       domain.PhaseStore
	AuditStore       domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.ProposalArchiver

	// Execution venue
	Pools      domain.PoolEngine
	Bundles    domain.BundleSubmitter
	Settlement domain.Settlement
	Executor   domain.TxExecutor

	// Notifications
	Notifier *notify.Notifier

	// Proposal registry
	Moderator *moderator.Moderator
}

// needsInfra returns true for modes that require Postgres and Redis. Sim mode
// runs entirely in memory.
func needsInfra(mode string) bool {
	return mode != "sim"
}

// needsS3 returns true when finalized proposals should be archived to object
// storage.
func needsS3(cfg *config.Config) bool {
	return needsInfra(cfg.Mode) && cfg.Crank.ArchiveOnEnd
}

// treasurySeedMultiple is how many proposals' worth of seed liquidity the
// in-process ledger credits to the governance authority up front.
const treasurySeedMultiple = 1024

// newTreasuryLedger builds the settlement ledger with the authority account
// funded in both governance assets. Phase initialization escrows seed
// liquidity from this account, so an unfunded ledger would fail every
// proposal before its markets exist.
func newTreasuryLedger(cfg *config.Config) *sim.Ledger {
	ledger := sim.NewLedger()
	multiple := big.NewInt(treasurySeedMultiple)
	ledger.Fund(cfg.Governance.Authority,
		domain.AssetID(cfg.Governance.BaseAsset),
		new(big.Int).Mul(cfg.SeedBaseAmount(), multiple))
	ledger.Fund(cfg.Governance.Authority,
		domain.AssetID(cfg.Governance.QuoteAsset),
		new(big.Int).Mul(cfg.SeedQuoteAmount(), multiple))
	return ledger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (skipped in sim mode) ---
	if needsInfra(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ProposalStore = postgres.NewProposalStore(pool)
		deps.ObservationStore = postgres.NewObservationStore(pool)
		deps.PhaseStore = postgres.NewPhaseStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (skipped in sim mode) ---
	if needsInfra(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.LockManager = sim.NewLockManager()
	}

	// --- S3 blob storage (only when archival is on) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter)
	}

	// --- Execution venue ---
	// The pool engine, settlement ledger, and transaction executor are the
	// in-process venue. Bundle submission goes through the relay only when one
	// is configured; a nil submitter selects the sequential fallback path.
	deps.Pools = sim.NewPoolEngine()
	deps.Settlement = newTreasuryLedger(cfg)
	deps.Executor = sim.NewExecutor()
	if cfg.Bundler.Enabled {
		deps.Bundles = bundler.NewClient(cfg.Bundler.Endpoint, cfg.Bundler.Timeout.Duration)
	} else if cfg.Mode == "sim" {
		deps.Bundles = sim.NewBundleSubmitter()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Moderator ---
	mod, err := moderator.New(ctx, moderator.Params{
		Authority:    cfg.Governance.Authority,
		BaseAsset:    domain.AssetID(cfg.Governance.BaseAsset),
		QuoteAsset:   domain.AssetID(cfg.Governance.QuoteAsset),
		SeedBase:     cfg.SeedBaseAmount(),
		SeedQuote:    cfg.SeedQuoteAmount(),
		VotingWindow: cfg.Governance.VotingWindow.Duration,
		Oracle: oracle.Config{
			StartDelay:         cfg.TWAP.StartDelay.Duration,
			MaxChangePerUpdate: cfg.TWAP.MaxChangePerUpdate,
			PassThresholdBps:   int64(cfg.TWAP.PassThresholdBps),
		},
		BundleTimeout: cfg.Bundler.Timeout.Duration,
	}, proposal.Collaborators{
		Pools:      deps.Pools,
		Bundles:    deps.Bundles,
		Settlement: deps.Settlement,
		Executor:   deps.Executor,
		Phases:     deps.PhaseStore,
		Audit:      deps.AuditStore,
		Logger:     logger,
	}, deps.ProposalStore, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: moderator: %w", err)
	}
	deps.Moderator = mod

	return deps, cleanup, nil
}
