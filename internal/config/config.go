// Package config defines the top-level configuration for the treasure chest
// client and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TREASURE_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Indexer   IndexerConfig   `toml:"indexer"`
	PriceFeed PriceFeedConfig `toml:"price_feed"`
	Session   SessionConfig   `toml:"session"`
	History   HistoryConfig   `toml:"history"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key of the connected identity.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the remote ledger endpoint and the fixed contract.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	ContractAddress     string   `toml:"contract_address"`
	OwnerAddress        string   `toml:"owner_address"`
	ExplorerURL         string   `toml:"explorer_url"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// IndexerConfig holds the indexing API parameters.
type IndexerConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Interval   duration `toml:"interval"`
	MaxRecords int      `toml:"max_records"`
	PageSize   int      `toml:"page_size"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PriceFeedConfig holds the display exchange-rate feed parameters.
type PriceFeedConfig struct {
	Enabled  bool     `toml:"enabled"`
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"api_key"`
	CoinID   string   `toml:"coin_id"`
	Currency string   `toml:"currency"`
	Interval duration `toml:"interval"`
}

// SessionConfig holds the wager parameters.
type SessionConfig struct {
	StakeEther string   `toml:"stake_ether"`
	Cooldown   duration `toml:"cooldown"`
}

// HistoryConfig controls persistence and archival of outcome events.
type HistoryConfig struct {
	Persist              bool   `toml:"persist"`
	ArchiveEnabled       bool   `toml:"archive_enabled"`
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "https://sepolia.base.org",
			ChainID:             84532,
			ContractAddress:     "0xad0B9085A343be3B5273619A053Ffa5c60789173",
			OwnerAddress:        "0xc17c78C007FC5C01d796a30334fa12b025426652",
			ExplorerURL:         "https://sepolia.basescan.org",
			ReceiptPollInterval: duration{2 * time.Second},
		},
		Indexer: IndexerConfig{
			BaseURL:    "https://api-sepolia.basescan.org/api",
			Interval:   duration{30 * time.Second},
			MaxRecords: 100,
			PageSize:   5,
			RateLimit:  5,
			RateWindow: duration{time.Second},
		},
		PriceFeed: PriceFeedConfig{
			Enabled:  true,
			BaseURL:  "https://api.coingecko.com/api/v3",
			CoinID:   "ethereum",
			Currency: "usd",
			Interval: duration{60 * time.Second},
		},
		Session: SessionConfig{
			StakeEther: "0.01",
			Cooldown:   duration{15 * time.Second},
		},
		History: HistoryConfig{
			Persist:              false,
			ArchiveEnabled:       false,
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 30,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "treasure",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "treasure-history",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"outcome_resolved", "stake_failed", "claim_failed", "outcome_not_observable", "withdrawal"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the configured mode signs transactions.
func (c *Config) NeedsWallet() bool {
	return strings.ToLower(c.Mode) == "full"
}

// StakeAmount returns the configured stake in ether.
func (c *Config) StakeAmount() (decimal.Decimal, error) {
	eth, err := decimal.NewFromString(strings.TrimSpace(c.Session.StakeEther))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: session.stake_ether: %w", err)
	}
	return eth, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if !common.IsHexAddress(c.Chain.OwnerAddress) {
		errs = append(errs, fmt.Sprintf("chain: owner_address %q is not a hex address", c.Chain.OwnerAddress))
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be > 0")
	}

	// Indexer
	if c.Indexer.BaseURL == "" {
		errs = append(errs, "indexer: base_url must not be empty")
	}
	if c.Indexer.Interval.Duration <= 0 {
		errs = append(errs, "indexer: interval must be > 0")
	}
	if c.Indexer.MaxRecords < 1 {
		errs = append(errs, "indexer: max_records must be >= 1")
	}
	if c.Indexer.PageSize < 1 {
		errs = append(errs, "indexer: page_size must be >= 1")
	}

	// Price feed
	if c.PriceFeed.Enabled {
		if c.PriceFeed.BaseURL == "" {
			errs = append(errs, "price_feed: base_url must not be empty when enabled")
		}
		if c.PriceFeed.Interval.Duration <= 0 {
			errs = append(errs, "price_feed: interval must be > 0 when enabled")
		}
	}

	// Session
	if eth, err := c.StakeAmount(); err != nil {
		errs = append(errs, "session: stake_ether must be a decimal ether amount")
	} else if eth.Sign() <= 0 {
		errs = append(errs, "session: stake_ether must be > 0")
	}
	if c.Session.Cooldown.Duration <= 0 {
		errs = append(errs, "session: cooldown must be > 0")
	}

	// History
	if c.History.Persist && !c.Postgres.Enabled {
		errs = append(errs, "history: persist requires postgres.enabled")
	}
	if c.History.ArchiveEnabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "history: archive_enabled requires postgres.enabled and s3.enabled")
		}
		if c.History.ArchiveRetentionDays < 1 {
			errs = append(errs, "history: archive_retention_days must be >= 1")
		}
		if len(strings.Fields(c.History.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("history: archive_cron %q must have 5 fields", c.History.ArchiveCron))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
