package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUTARCHD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUTARCHD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Governance ──
	setStr(&cfg.Governance.Authority, "FUTARCHD_GOVERNANCE_AUTHORITY")
	setStr(&cfg.Governance.BaseAsset, "FUTARCHD_GOVERNANCE_BASE_ASSET")
	setStr(&cfg.Governance.QuoteAsset, "FUTARCHD_GOVERNANCE_QUOTE_ASSET")
	setStr(&cfg.Governance.SeedBase, "FUTARCHD_GOVERNANCE_SEED_BASE")
	setStr(&cfg.Governance.SeedQuote, "FUTARCHD_GOVERNANCE_SEED_QUOTE")
	setDuration(&cfg.Governance.VotingWindow, "FUTARCHD_GOVERNANCE_VOTING_WINDOW")

	// ── TWAP ──
	setDuration(&cfg.TWAP.StartDelay, "FUTARCHD_TWAP_START_DELAY")
	setFloat64(&cfg.TWAP.MaxChangePerUpdate, "FUTARCHD_TWAP_MAX_CHANGE_PER_UPDATE")
	setInt(&cfg.TWAP.PassThresholdBps, "FUTARCHD_TWAP_PASS_THRESHOLD_BPS")

	// ── Bundler ──
	setBool(&cfg.Bundler.Enabled, "FUTARCHD_BUNDLER_ENABLED")
	setStr(&cfg.Bundler.Endpoint, "FUTARCHD_BUNDLER_ENDPOINT")
	setDuration(&cfg.Bundler.Timeout, "FUTARCHD_BUNDLER_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUTARCHD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "FUTARCHD_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUTARCHD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUTARCHD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUTARCHD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUTARCHD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUTARCHD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUTARCHD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUTARCHD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUTARCHD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUTARCHD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTARCHD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTARCHD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTARCHD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTARCHD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTARCHD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTARCHD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUTARCHD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTARCHD_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTARCHD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTARCHD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTARCHD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUTARCHD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUTARCHD_S3_FORCE_PATH_STYLE")

	// ── Crank ──
	setDuration(&cfg.Crank.Interval, "FUTARCHD_CRANK_INTERVAL")
	setDuration(&cfg.Crank.LockTTL, "FUTARCHD_CRANK_LOCK_TTL")
	setBool(&cfg.Crank.ArchiveOnEnd, "FUTARCHD_CRANK_ARCHIVE_ON_END")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTARCHD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTARCHD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUTARCHD_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTARCHD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTARCHD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTARCHD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUTARCHD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUTARCHD_MODE")
	setStr(&cfg.LogLevel, "FUTARCHD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
