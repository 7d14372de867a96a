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
// built-in defaults, applies KLASH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known KLASH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "KLASH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KLASH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KLASH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KLASH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KLASH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KLASH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KLASH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KLASH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KLASH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KLASH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "KLASH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KLASH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KLASH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KLASH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KLASH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KLASH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "KLASH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KLASH_S3_REGION")
	setStr(&cfg.S3.Bucket, "KLASH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KLASH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KLASH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KLASH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KLASH_S3_FORCE_PATH_STYLE")

	// ── Classifier ──
	setStr(&cfg.Classifier.BaseURL, "KLASH_CLASSIFIER_BASE_URL")
	setStr(&cfg.Classifier.APIKey, "KLASH_CLASSIFIER_API_KEY")
	setDuration(&cfg.Classifier.Timeout, "KLASH_CLASSIFIER_TIMEOUT")
	setInt(&cfg.Classifier.RateLimit, "KLASH_CLASSIFIER_RATE_LIMIT")
	setDuration(&cfg.Classifier.RateLimitWindow, "KLASH_CLASSIFIER_RATE_LIMIT_WINDOW")

	// ── Feedscan ──
	setStr(&cfg.Feedscan.BaseURL, "KLASH_FEEDSCAN_BASE_URL")
	setStr(&cfg.Feedscan.APIKey, "KLASH_FEEDSCAN_API_KEY")
	setDuration(&cfg.Feedscan.Timeout, "KLASH_FEEDSCAN_TIMEOUT")
	setInt(&cfg.Feedscan.MaxReplies, "KLASH_FEEDSCAN_MAX_REPLIES")

	// ── Ledger ──
	setDuration(&cfg.Ledger.LockTTL, "KLASH_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.CacheTTL, "KLASH_LEDGER_CACHE_TTL")
	setStr(&cfg.Ledger.OracleAddress, "KLASH_LEDGER_ORACLE_ADDRESS")
	setStr(&cfg.Ledger.AdminAddress, "KLASH_LEDGER_ADMIN_ADDRESS")
	setBool(&cfg.Ledger.InitializeState, "KLASH_LEDGER_INITIALIZE_STATE")

	// ── Governance ──
	setInt(&cfg.Governance.FeeBps, "KLASH_GOVERNANCE_FEE_BPS")
	setInt64(&cfg.Governance.MinBet, "KLASH_GOVERNANCE_MIN_BET")
	setInt64(&cfg.Governance.MaxBet, "KLASH_GOVERNANCE_MAX_BET")
	setInt(&cfg.Governance.MinDelayHours, "KLASH_GOVERNANCE_MIN_DELAY_HOURS")
	setDuration(&cfg.Governance.LockTTL, "KLASH_GOVERNANCE_LOCK_TTL")

	// ── Settlement ──
	setBool(&cfg.Settlement.Enabled, "KLASH_SETTLEMENT_ENABLED")
	setDuration(&cfg.Settlement.SweepInterval, "KLASH_SETTLEMENT_SWEEP_INTERVAL")
	setInt(&cfg.Settlement.MaxAttempts, "KLASH_SETTLEMENT_MAX_ATTEMPTS")
	setInt(&cfg.Settlement.Concurrency, "KLASH_SETTLEMENT_CONCURRENCY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "KLASH_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "KLASH_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Cron, "KLASH_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "KLASH_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KLASH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KLASH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KLASH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KLASH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KLASH_MODE")
	setStr(&cfg.LogLevel, "KLASH_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
