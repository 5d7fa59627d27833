package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/betcoon/internal/blob/s3"
	"github.com/alanyoungcy/betcoon/internal/cache/redis"
	"github.com/alanyoungcy/betcoon/internal/clock"
	"github.com/alanyoungcy/betcoon/internal/config"
	"github.com/alanyoungcy/betcoon/internal/crypto"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/lock"
	"github.com/alanyoungcy/betcoon/internal/notify"
	"github.com/alanyoungcy/betcoon/internal/server/handler"
	"github.com/alanyoungcy/betcoon/internal/store/memory"
	"github.com/alanyoungcy/betcoon/internal/store/postgres"
	"github.com/alanyoungcy/betcoon/internal/transfer"
)

// busBuffer bounds the in-process event stream when Redis is disabled.
const busBuffer = 10000

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Bets     domain.BetStore
	Ledger   domain.LedgerStore
	Balances domain.BalanceStore
	Audit    domain.AuditStore
	Journal  domain.TransferJournal

	// Coordination. RateLimiter is nil when Redis is disabled.
	Locks       domain.LockManager
	Prices      domain.PriceHistory
	Bus         domain.SignalBus
	RateLimiter domain.RateLimiter

	// Payouts
	Transfer domain.Transferer
	Clock    domain.Clock

	// Blob storage, only set when the archive runs.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier
	Checks   map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:  clock.System{},
		Checks: make(map[string]handler.Check),
	}

	// --- Bets, ledger, balances, audit ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
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
		deps.Bets = postgres.NewBetStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Balances = postgres.NewBalanceStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Journal = postgres.NewTransferJournalStore(pool)
		deps.Checks["postgres"] = pool.Ping
	default:
		store := memory.NewStore()
		deps.Bets = store
		deps.Ledger = store
		deps.Balances = memory.NewBalanceStore()
		deps.Audit = memory.NewAuditStore()
		deps.Journal = memory.NewTransferJournal()
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Prices = redis.NewPriceHistory(redisClient, cfg.Redis.PriceRetention.Duration)
		deps.Bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = lock.NewKeyedMutex()
		deps.Prices = memory.NewPriceHistory()
		deps.Bus = memory.NewSignalBus(busBuffer)
		if cfg.Server.RateLimit > 0 {
			logger.WarnContext(ctx, "rate limiting needs redis; server.rate_limit ignored")
		}
	}

	// --- Payout transfers ---
	switch cfg.Transfer.Mode {
	case "evm":
		wallet, err := crypto.LoadWallet(crypto.KeyConfig{
			RawPrivateKey:    cfg.Transfer.PrivateKey,
			EncryptedKeyPath: cfg.Transfer.EncryptedKeyPath,
			KeyPassword:      cfg.Transfer.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: payout wallet: %w", err)
		}
		evm, closeEVM, err := transfer.DialEVM(ctx, transfer.EVMConfig{
			RPCURL:   cfg.Transfer.RPCURL,
			ChainID:  cfg.Transfer.ChainID,
			GasLimit: cfg.Transfer.GasLimit,
			Decimals: int32(cfg.Transfer.Decimals),
		}, wallet, deps.Journal, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, closeEVM)
		deps.Transfer = evm
		logger.InfoContext(ctx, "payouts go on-chain",
			slog.String("address", wallet.Address().Hex()),
			slog.Int64("chain_id", cfg.Transfer.ChainID),
		)
	default:
		deps.Transfer = transfer.NewBook(deps.Balances)
	}

	// --- S3 blob storage (only when the archive runs) ---
	if cfg.ArchiveEnabled() {
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
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
