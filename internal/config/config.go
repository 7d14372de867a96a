// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by KLASH_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Classifier ClassifierConfig `toml:"classifier"`
	Feedscan   FeedscanConfig   `toml:"feedscan"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Governance GovernanceConfig `toml:"governance"`
	Settlement SettlementConfig `toml:"settlement"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ClassifierConfig holds the classification service endpoint and limits.
type ClassifierConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Timeout         duration `toml:"timeout"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// FeedscanConfig holds the reply-feed service endpoint.
type FeedscanConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	MaxReplies int      `toml:"max_replies"`
}

// LedgerConfig holds market ledger parameters.
type LedgerConfig struct {
	LockTTL         duration `toml:"lock_ttl"`
	CacheTTL        duration `toml:"cache_ttl"`
	OracleAddress   string   `toml:"oracle_address"`
	AdminAddress    string   `toml:"admin_address"`
	InitializeState bool     `toml:"initialize_state"`
}

// GovernanceConfig holds the initial protocol parameters.
type GovernanceConfig struct {
	FeeBps        int      `toml:"fee_bps"`
	MinBet        int64    `toml:"min_bet"`
	MaxBet        int64    `toml:"max_bet"`
	MinDelayHours int      `toml:"min_delay_hours"`
	LockTTL       duration `toml:"lock_ttl"`
}

// SettlementConfig holds auto-resolution scheduler parameters.
type SettlementConfig struct {
	Enabled       bool     `toml:"enabled"`
	SweepInterval duration `toml:"sweep_interval"`
	MaxAttempts   int      `toml:"max_attempts"`
	Concurrency   int      `toml:"concurrency"`
}

// ArchiveConfig holds cold-storage archival parameters. When Cron is set it
// takes precedence over Interval.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	Cron          string   `toml:"cron"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
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
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "klash",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "klash-archive",
			ForcePathStyle: true,
		},
		Classifier: ClassifierConfig{
			BaseURL:         "http://localhost:8200",
			Timeout:         duration{60 * time.Second},
			RateLimit:       2,
			RateLimitWindow: duration{time.Second},
		},
		Feedscan: FeedscanConfig{
			BaseURL:    "http://localhost:8100",
			Timeout:    duration{30 * time.Second},
			MaxReplies: 200,
		},
		Ledger: LedgerConfig{
			LockTTL:  duration{10 * time.Second},
			CacheTTL: duration{5 * time.Minute},
		},
		Governance: GovernanceConfig{
			FeeBps:        250,
			MinBet:        1,
			MaxBet:        1_000_000_000,
			MinDelayHours: 24,
			LockTTL:       duration{10 * time.Second},
		},
		Settlement: SettlementConfig{
			Enabled:       true,
			SweepInterval: duration{5 * time.Minute},
			MaxAttempts:   3,
			Concurrency:   1,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"market.resolved", "fees.withdrawn", "upgrade.executed", "admin.changed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"settle":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: settle, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	mode := strings.ToLower(c.Mode)
	if c.Settlement.Enabled && (mode == "settle" || mode == "full") {
		if c.Classifier.BaseURL == "" {
			errs = append(errs, "classifier: base_url must not be empty")
		}
		if c.Feedscan.BaseURL == "" {
			errs = append(errs, "feedscan: base_url must not be empty")
		}
		if c.Ledger.OracleAddress == "" {
			errs = append(errs, "ledger: oracle_address must be set for settlement")
		} else if !common.IsHexAddress(c.Ledger.OracleAddress) {
			errs = append(errs, fmt.Sprintf("ledger: oracle_address %q is not a valid address", c.Ledger.OracleAddress))
		}
		if c.Settlement.MaxAttempts < 1 {
			errs = append(errs, "settlement: max_attempts must be >= 1")
		}
		if c.Settlement.Concurrency < 1 {
			errs = append(errs, "settlement: concurrency must be >= 1")
		}
	}

	if c.Ledger.InitializeState {
		if c.Ledger.AdminAddress == "" {
			errs = append(errs, "ledger: admin_address must be set when initialize_state is on")
		} else if !common.IsHexAddress(c.Ledger.AdminAddress) {
			errs = append(errs, fmt.Sprintf("ledger: admin_address %q is not a valid address", c.Ledger.AdminAddress))
		}
	}

	if c.Governance.FeeBps < 0 || c.Governance.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("governance: fee_bps must be 0-10000, got %d", c.Governance.FeeBps))
	}
	if c.Governance.MinBet < 1 {
		errs = append(errs, "governance: min_bet must be >= 1")
	}
	if c.Governance.MaxBet < c.Governance.MinBet {
		errs = append(errs, "governance: max_bet must be >= min_bet")
	}
	if c.Governance.MinDelayHours < 0 {
		errs = append(errs, "governance: min_delay_hours must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
