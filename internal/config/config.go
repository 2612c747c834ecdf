// Package config defines the top-level configuration for the futarchy daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUTARCHD_* environment variables.
type Config struct {
	Governance GovernanceConfig `toml:"governance"`
	TWAP       TWAPConfig       `toml:"twap"`
	Bundler    BundlerConfig    `toml:"bundler"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Crank      CrankConfig      `toml:"crank"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// GovernanceConfig holds the DAO-level parameters applied to every proposal.
type GovernanceConfig struct {
	Authority  string `toml:"authority"`
	BaseAsset  string `toml:"base_asset"`
	QuoteAsset string `toml:"quote_asset"`
	// SeedBase and SeedQuote are decimal strings so the full precision of the
	// underlying asset survives TOML decoding.
	SeedBase     string   `toml:"seed_base"`
	SeedQuote    string   `toml:"seed_quote"`
	VotingWindow duration `toml:"voting_window"`
}

// TWAPConfig holds the decision-oracle parameters.
type TWAPConfig struct {
	StartDelay         duration `toml:"start_delay"`
	MaxChangePerUpdate float64  `toml:"max_change_per_update"`
	PassThresholdBps   int      `toml:"pass_threshold_bps"`
}

// BundlerConfig holds the atomic bundle relay endpoint. When Enabled is false
// the daemon falls back to sequential transaction submission.
type BundlerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Endpoint string   `toml:"endpoint"`
	Timeout  duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for proposal
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CrankConfig holds the oracle crank loop parameters.
type CrankConfig struct {
	Interval     duration `toml:"interval"`
	LockTTL      duration `toml:"lock_ttl"`
	ArchiveOnEnd bool     `toml:"archive_on_end"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Governance: GovernanceConfig{
			Authority:    "dao-treasury",
			BaseAsset:    "META",
			QuoteAsset:   "USDC",
			SeedBase:     "1000000000",
			SeedQuote:    "1000000000",
			VotingWindow: duration{72 * time.Hour},
		},
		TWAP: TWAPConfig{
			StartDelay:         duration{5 * time.Minute},
			MaxChangePerUpdate: 0.05,
			PassThresholdBps:   5000,
		},
		Bundler: BundlerConfig{
			Enabled:  false,
			Endpoint: "http://localhost:8899/api/v1/bundles",
			Timeout:  duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "futarchd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "futarchd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Crank: CrankConfig{
			Interval:     duration{time.Minute},
			LockTTL:      duration{2 * time.Minute},
			ArchiveOnEnd: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"proposal_initialized", "proposal_finalized", "proposal_executed", "init_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"crank":  true,
	"sim":    true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, crank, sim, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Governance
	if c.Governance.Authority == "" {
		errs = append(errs, "governance: authority must not be empty")
	}
	if c.Governance.BaseAsset == "" {
		errs = append(errs, "governance: base_asset must not be empty")
	}
	if c.Governance.QuoteAsset == "" {
		errs = append(errs, "governance: quote_asset must not be empty")
	}
	if c.Governance.VotingWindow.Duration <= 0 {
		errs = append(errs, "governance: voting_window must be > 0")
	}
	for _, f := range []struct{ name, val string }{
		{"seed_base", c.Governance.SeedBase},
		{"seed_quote", c.Governance.SeedQuote},
	} {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			errs = append(errs, fmt.Sprintf("governance: %s must be a decimal integer, got %q", f.name, f.val))
		} else if n.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("governance: %s must be > 0", f.name))
		}
	}

	// TWAP
	if c.TWAP.StartDelay.Duration < 0 {
		errs = append(errs, "twap: start_delay must be >= 0")
	}
	if c.TWAP.MaxChangePerUpdate <= 0 {
		errs = append(errs, "twap: max_change_per_update must be > 0")
	}
	if c.TWAP.PassThresholdBps < 1 || c.TWAP.PassThresholdBps > 10_000 {
		errs = append(errs, fmt.Sprintf("twap: pass_threshold_bps must be 1-10000, got %d", c.TWAP.PassThresholdBps))
	}

	// Bundler
	if c.Bundler.Enabled {
		if c.Bundler.Endpoint == "" {
			errs = append(errs, "bundler: endpoint must not be empty when enabled")
		}
		if c.Bundler.Timeout.Duration <= 0 {
			errs = append(errs, "bundler: timeout must be > 0 when enabled")
		}
	}

	// Sim mode runs entirely in memory, so external infrastructure is optional.
	needsInfra := strings.ToLower(c.Mode) != "sim"

	// Postgres
	if needsInfra {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		// S3
		if c.Crank.ArchiveOnEnd {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty when crank.archive_on_end is set")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty when crank.archive_on_end is set")
			}
		}
	}

	// Crank
	if c.Crank.Interval.Duration <= 0 {
		errs = append(errs, "crank: interval must be > 0")
	}
	if c.Crank.LockTTL.Duration <= 0 {
		errs = append(errs, "crank: lock_ttl must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SeedBaseAmount returns governance.seed_base as a big integer. Validate must
// have succeeded before calling.
func (c *Config) SeedBaseAmount() *big.Int {
	n, _ := new(big.Int).SetString(c.Governance.SeedBase, 10)
	return n
}

// SeedQuoteAmount returns governance.seed_quote as a big integer. Validate
// must have succeeded before calling.
func (c *Config) SeedQuoteAmount() *big.Int {
	n, _ := new(big.Int).SetString(c.Governance.SeedQuote, 10)
	return n
}
