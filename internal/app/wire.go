package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/treasurechest/internal/blob/s3"
	"github.com/alanyoungcy/treasurechest/internal/cache/memory"
	"github.com/alanyoungcy/treasurechest/internal/cache/redis"
	"github.com/alanyoungcy/treasurechest/internal/config"
	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/crypto"
	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/metrics"
	"github.com/alanyoungcy/treasurechest/internal/notify"
	"github.com/alanyoungcy/treasurechest/internal/platform/basescan"
	"github.com/alanyoungcy/treasurechest/internal/platform/ethrpc"
	"github.com/alanyoungcy/treasurechest/internal/server/handler"
	"github.com/alanyoungcy/treasurechest/internal/store/postgres"
)

// Dependencies bundles every dependency the modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Optional backends are
// nil when disabled.
type Dependencies struct {
	// Ledger
	Contract common.Address
	Encoder  *contract.Encoder
	Owner    common.Address
	Signer   *crypto.Signer // nil without a wallet
	RPC      *ethrpc.Client
	Indexer  *basescan.Client

	// Stores
	OutcomeStore domain.OutcomeStore
	AuditStore   domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	Metrics      *metrics.Metrics
	HealthChecks map[string]handler.Pinger
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

	stake, err := cfg.StakeAmount()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	deps := &Dependencies{
		Contract:     common.HexToAddress(cfg.Chain.ContractAddress),
		Owner:        common.HexToAddress(cfg.Chain.OwnerAddress),
		Metrics:      metrics.Default(),
		HealthChecks: map[string]handler.Pinger{},
	}
	deps.Encoder = contract.NewEncoder(deps.Contract, domain.EtherToWei(stake))

	// --- Wallet (full mode only) ---
	if cfg.NeedsWallet() {
		signer, err := crypto.NewSignerFromConfig(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, cfg.Chain.ChainID)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "wallet loaded", slog.String("identity", signer.Address().Hex()))
	}

	// --- Ledger RPC ---
	eth, err := ethrpc.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, eth.Close)
	deps.RPC = ethrpc.NewClient(eth, deps.Signer, deps.Encoder, cfg.Chain.ReceiptPollInterval.Duration, logger)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
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
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.History.Persist || cfg.History.ArchiveEnabled {
			deps.OutcomeStore = postgres.NewOutcomeStore(pool)
		}
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- Indexer ---
	deps.Indexer = basescan.NewClient(cfg.Indexer.BaseURL, cfg.Indexer.APIKey)
	if deps.RateLimiter != nil && cfg.Indexer.RateLimit > 0 {
		deps.Indexer.WithRateLimiter(deps.RateLimiter, cfg.Indexer.RateLimit, cfg.Indexer.RateWindow.Duration)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthChecks["s3"] = s3Client.Health

		if cfg.History.ArchiveEnabled && deps.OutcomeStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.OutcomeStore,
				deps.AuditStore,
			)
		}
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

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Int("notify_senders", len(senders)),
	)

	return deps, cleanup, nil
}
