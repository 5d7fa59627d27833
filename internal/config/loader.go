package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETCOON_* environment variable overrides, and
// returns the final Config. An empty path or a missing file leaves the
// defaults in place. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETCOON_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BETCOON_MODE")
	setStr(&cfg.LogLevel, "BETCOON_LOG_LEVEL")
	setStr(&cfg.Storage.Driver, "BETCOON_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETCOON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETCOON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETCOON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETCOON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETCOON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETCOON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETCOON_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETCOON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETCOON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETCOON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BETCOON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BETCOON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETCOON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETCOON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETCOON_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "BETCOON_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BETCOON_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETCOON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETCOON_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETCOON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETCOON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETCOON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETCOON_S3_USE_SSL")

	// ── Oracle ──
	setStr(&cfg.Oracle.FeedURL, "BETCOON_ORACLE_FEED_URL")
	setStr(&cfg.Oracle.FeedAuthToken, "BETCOON_ORACLE_FEED_AUTH_TOKEN")
	setStringSlice(&cfg.Oracle.Subjects, "BETCOON_ORACLE_SUBJECTS")
	setDuration(&cfg.Oracle.Timeout, "BETCOON_ORACLE_TIMEOUT")
	setDuration(&cfg.Oracle.Tolerance, "BETCOON_ORACLE_TOLERANCE")

	// ── Settlement / claims ──
	setStr(&cfg.Settlement.DefaultSubject, "BETCOON_SETTLEMENT_DEFAULT_SUBJECT")
	setStr(&cfg.Settlement.TieSide, "BETCOON_SETTLEMENT_TIE_SIDE")
	setDuration(&cfg.Settlement.GracePeriod, "BETCOON_SETTLEMENT_GRACE_PERIOD")
	setInt(&cfg.Settlement.MinOracleFailures, "BETCOON_SETTLEMENT_MIN_ORACLE_FAILURES")
	setDuration(&cfg.Settlement.LockTTL, "BETCOON_SETTLEMENT_LOCK_TTL")
	setDuration(&cfg.Settlement.LockTimeout, "BETCOON_SETTLEMENT_LOCK_TIMEOUT")
	setDuration(&cfg.Claims.PendingAfter, "BETCOON_CLAIMS_PENDING_AFTER")

	// ── Transfer ──
	setStr(&cfg.Transfer.Mode, "BETCOON_TRANSFER_MODE")
	setStr(&cfg.Transfer.RPCURL, "BETCOON_TRANSFER_RPC_URL")
	setInt64(&cfg.Transfer.ChainID, "BETCOON_TRANSFER_CHAIN_ID")
	setUint64(&cfg.Transfer.GasLimit, "BETCOON_TRANSFER_GAS_LIMIT")
	setInt(&cfg.Transfer.Decimals, "BETCOON_TRANSFER_DECIMALS")
	setStr(&cfg.Transfer.PrivateKey, "BETCOON_TRANSFER_PRIVATE_KEY")
	setStr(&cfg.Transfer.EncryptedKeyPath, "BETCOON_TRANSFER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Transfer.KeyPassword, "BETCOON_TRANSFER_KEY_PASSWORD")

	// ── Keeper / archive ──
	setDuration(&cfg.Keeper.Interval, "BETCOON_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "BETCOON_KEEPER_BATCH_SIZE")
	setDuration(&cfg.Archive.Interval, "BETCOON_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BETCOON_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BETCOON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BETCOON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETCOON_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETCOON_SERVER_API_KEY")
	setStr(&cfg.Server.CallerSecret, "BETCOON_SERVER_CALLER_SECRET")
	setInt(&cfg.Server.RateLimit, "BETCOON_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BETCOON_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETCOON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETCOON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETCOON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETCOON_NOTIFY_EVENTS")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
