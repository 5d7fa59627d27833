// Package config defines the top-level configuration for the betcoon engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETCOON_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Oracle     OracleConfig     `toml:"oracle"`
	Settlement SettlementConfig `toml:"settlement"`
	Claims     ClaimsConfig     `toml:"claims"`
	Transfer   TransferConfig   `toml:"transfer"`
	Keeper     KeeperConfig     `toml:"keeper"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StorageConfig selects where bets and the ledger live.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// falls back to in-process locks, price history and event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// StreamMaxLen caps the replayable event stream.
	StreamMaxLen int `toml:"stream_max_len"`
	// PriceRetention trims recorded observations older than this.
	PriceRetention duration `toml:"price_retention"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig configures the price feed and how observations are read back.
type OracleConfig struct {
	FeedURL string `toml:"feed_url"`
	// FeedAuthToken is sent as a bearer token on the feed handshake.
	FeedAuthToken string   `toml:"feed_auth_token"`
	Subjects      []string `toml:"subjects"`
	Timeout       duration `toml:"timeout"`
	Tolerance     duration `toml:"tolerance"`
}

// SettlementConfig holds the settlement and per-bet locking policy.
type SettlementConfig struct {
	DefaultSubject    string   `toml:"default_subject"`
	TieSide           string   `toml:"tie_side"`
	GracePeriod       duration `toml:"grace_period"`
	MinOracleFailures int      `toml:"min_oracle_failures"`
	LockTTL           duration `toml:"lock_ttl"`
	LockTimeout       duration `toml:"lock_timeout"`
}

// ClaimsConfig controls recovery of claims stuck between phases.
type ClaimsConfig struct {
	PendingAfter duration `toml:"pending_after"`
}

// TransferConfig selects how payouts move value.
type TransferConfig struct {
	// Mode is "book" (internal balances) or "evm" (native-value transactions).
	Mode             string `toml:"mode"`
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	GasLimit         uint64 `toml:"gas_limit"`
	Decimals         int    `toml:"decimals"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// KeeperConfig controls the periodic resolver.
type KeeperConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// ArchiveConfig controls the settled-bet export.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
	// RetentionDays is how long a settled bet stays out of the archive.
	RetentionDays int `toml:"retention_days"`
	PageSize      int `toml:"page_size"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// CallerSecret enables signed X-Caller-* headers when set.
	CallerSecret  string   `toml:"caller_secret"`
	CallerMaxSkew duration `toml:"caller_max_skew"`
	// RateLimit is requests per RateWindow per caller; 0 disables it.
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "betcoon",
			User:           "betcoon",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   1,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			MaxRetries:     3,
			KeyPrefix:      "betcoon:",
			StreamMaxLen:   10000,
			PriceRetention: duration{7 * 24 * time.Hour},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "betcoon-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Subjects:  []string{"BTC-USD"},
			Timeout:   duration{5 * time.Second},
			Tolerance: duration{5 * time.Minute},
		},
		Settlement: SettlementConfig{
			DefaultSubject:    "BTC-USD",
			TieSide:           "below",
			GracePeriod:       duration{time.Hour},
			MinOracleFailures: 3,
			LockTTL:           duration{30 * time.Second},
			LockTimeout:       duration{10 * time.Second},
		},
		Claims: ClaimsConfig{PendingAfter: duration{5 * time.Minute}},
		Transfer: TransferConfig{
			Mode:     "book",
			GasLimit: 21000,
			Decimals: 18,
		},
		Keeper: KeeperConfig{
			Interval:  duration{30 * time.Second},
			BatchSize: 100,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
			PageSize:      500,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8080,
			CORSOrigins:   []string{"*"},
			CallerMaxSkew: duration{5 * time.Minute},
			RateWindow:    duration{time.Minute},
			ReadTimeout:   duration{15 * time.Second},
			WriteTimeout:  duration{15 * time.Second},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"keeper":  true,
	"feed":    true,
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

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, feed, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
		// A memory store is private to the process; modes that run on
		// their own would see no bets.
		if mode == "keeper" || mode == "archive" {
			errs = append(errs, fmt.Sprintf("storage: mode %s requires driver postgres", mode))
		}
	case "postgres":
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
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if mode == "feed" {
		errs = append(errs, "redis: feed mode records prices in redis and requires redis.enabled")
	}

	// S3, only used by the archive.
	if c.ArchiveEnabled() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Oracle
	if (mode == "feed" || mode == "full") && c.Oracle.FeedURL != "" && len(c.Oracle.Subjects) == 0 {
		errs = append(errs, "oracle: subjects must not be empty when feed_url is set")
	}
	if mode == "feed" && c.Oracle.FeedURL == "" {
		errs = append(errs, "oracle: feed_url is required for feed mode")
	}
	if c.Oracle.Timeout.Duration <= 0 {
		errs = append(errs, "oracle: timeout must be > 0")
	}
	if c.Oracle.Tolerance.Duration < 0 {
		errs = append(errs, "oracle: tolerance must be >= 0")
	}

	// Settlement
	if c.Settlement.DefaultSubject == "" {
		errs = append(errs, "settlement: default_subject must not be empty")
	}
	if t := strings.ToLower(c.Settlement.TieSide); t != "below" && t != "above" {
		errs = append(errs, fmt.Sprintf("settlement: tie_side must be below or above, got %q", c.Settlement.TieSide))
	}
	if c.Settlement.GracePeriod.Duration < 0 {
		errs = append(errs, "settlement: grace_period must be >= 0")
	}
	if c.Settlement.MinOracleFailures < 1 {
		errs = append(errs, "settlement: min_oracle_failures must be >= 1")
	}
	if c.Settlement.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0")
	}
	if c.Settlement.LockTimeout.Duration <= 0 {
		errs = append(errs, "settlement: lock_timeout must be > 0")
	}

	if c.Claims.PendingAfter.Duration <= 0 {
		errs = append(errs, "claims: pending_after must be > 0")
	}

	// Transfer
	switch c.Transfer.Mode {
	case "book":
	case "evm":
		if c.Transfer.RPCURL == "" {
			errs = append(errs, "transfer: rpc_url is required for mode evm")
		}
		if c.Transfer.ChainID <= 0 {
			errs = append(errs, "transfer: chain_id must be positive")
		}
		if c.Transfer.Decimals < 0 || c.Transfer.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("transfer: decimals must be 0-36, got %d", c.Transfer.Decimals))
		}
		if c.Transfer.PrivateKey == "" && c.Transfer.EncryptedKeyPath == "" {
			errs = append(errs, "transfer: either private_key or encrypted_key_path must be set for mode evm")
		}
		if c.Transfer.EncryptedKeyPath != "" && c.Transfer.KeyPassword == "" {
			errs = append(errs, "transfer: key_password is required when encrypted_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("transfer: unknown mode %q (valid: book, evm)", c.Transfer.Mode))
	}

	// Keeper
	if mode == "keeper" || mode == "full" {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
	}

	// Archive
	if c.ArchiveEnabled() {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}
	if c.Archive.RetentionDays < 0 {
		errs = append(errs, "archive: retention_days must be >= 0")
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ArchiveEnabled reports whether the archive runs: always in archive mode,
// and in full mode once an S3 endpoint is configured.
func (c *Config) ArchiveEnabled() bool {
	switch strings.ToLower(c.Mode) {
	case "archive":
		return true
	case "full":
		return c.S3.Endpoint != ""
	}
	return false
}
