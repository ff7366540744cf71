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
// built-in defaults, applies TREASURE_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TREASURE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TREASURE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TREASURE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TREASURE_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "TREASURE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "TREASURE_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "TREASURE_CHAIN_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.OwnerAddress, "TREASURE_CHAIN_OWNER_ADDRESS")
	setStr(&cfg.Chain.ExplorerURL, "TREASURE_CHAIN_EXPLORER_URL")
	setDuration(&cfg.Chain.ReceiptPollInterval, "TREASURE_CHAIN_RECEIPT_POLL_INTERVAL")

	// ── Indexer ──
	setStr(&cfg.Indexer.BaseURL, "TREASURE_INDEXER_BASE_URL")
	setStr(&cfg.Indexer.APIKey, "TREASURE_INDEXER_API_KEY")
	setStr(&cfg.Indexer.APIKey, "BASESCAN_API_KEY") // compatibility alias
	setDuration(&cfg.Indexer.Interval, "TREASURE_INDEXER_INTERVAL")
	setInt(&cfg.Indexer.MaxRecords, "TREASURE_INDEXER_MAX_RECORDS")
	setInt(&cfg.Indexer.PageSize, "TREASURE_INDEXER_PAGE_SIZE")
	setInt(&cfg.Indexer.RateLimit, "TREASURE_INDEXER_RATE_LIMIT")
	setDuration(&cfg.Indexer.RateWindow, "TREASURE_INDEXER_RATE_WINDOW")

	// ── Price feed ──
	setBool(&cfg.PriceFeed.Enabled, "TREASURE_PRICE_FEED_ENABLED")
	setStr(&cfg.PriceFeed.BaseURL, "TREASURE_PRICE_FEED_BASE_URL")
	setStr(&cfg.PriceFeed.APIKey, "TREASURE_PRICE_FEED_API_KEY")
	setStr(&cfg.PriceFeed.CoinID, "TREASURE_PRICE_FEED_COIN_ID")
	setStr(&cfg.PriceFeed.Currency, "TREASURE_PRICE_FEED_CURRENCY")
	setDuration(&cfg.PriceFeed.Interval, "TREASURE_PRICE_FEED_INTERVAL")

	// ── Session ──
	setStr(&cfg.Session.StakeEther, "TREASURE_SESSION_STAKE_ETHER")
	setDuration(&cfg.Session.Cooldown, "TREASURE_SESSION_COOLDOWN")

	// ── History ──
	setBool(&cfg.History.Persist, "TREASURE_HISTORY_PERSIST")
	setBool(&cfg.History.ArchiveEnabled, "TREASURE_HISTORY_ARCHIVE_ENABLED")
	setStr(&cfg.History.ArchiveCron, "TREASURE_HISTORY_ARCHIVE_CRON")
	setInt(&cfg.History.ArchiveRetentionDays, "TREASURE_HISTORY_ARCHIVE_RETENTION_DAYS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TREASURE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TREASURE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TREASURE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TREASURE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TREASURE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TREASURE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TREASURE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TREASURE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TREASURE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TREASURE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TREASURE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TREASURE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TREASURE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TREASURE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TREASURE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TREASURE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TREASURE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TREASURE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TREASURE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TREASURE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TREASURE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TREASURE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TREASURE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TREASURE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TREASURE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TREASURE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TREASURE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TREASURE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TREASURE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TREASURE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TREASURE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TREASURE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TREASURE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TREASURE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TREASURE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TREASURE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TREASURE_MODE")
	setStr(&cfg.LogLevel, "TREASURE_LOG_LEVEL")
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
