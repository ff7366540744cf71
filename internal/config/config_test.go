package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.NeedsWallet())
	require.Equal(t, 15*time.Second, cfg.Session.Cooldown.Duration)
	require.Equal(t, 100, cfg.Indexer.MaxRecords)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Chain.ContractAddress = "not-an-address"
	cfg.Session.StakeEther = "-1"
	cfg.History.ArchiveEnabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "wallet: either private_key or encrypted_key_path")
	require.Contains(t, msg, "contract_address")
	require.Contains(t, msg, "stake_ether must be > 0")
	require.Contains(t, msg, "archive_enabled requires postgres.enabled and s3.enabled")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[session]
cooldown = "20s"

[indexer]
interval = "45s"
page_size = 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("TREASURE_INDEXER_API_KEY", "secret-key")
	t.Setenv("TREASURE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TREASURE_SESSION_COOLDOWN", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "monitor", cfg.Mode)
	require.Equal(t, 45*time.Second, cfg.Indexer.Interval.Duration)
	require.Equal(t, 10, cfg.Indexer.PageSize)
	require.Equal(t, 30*time.Second, cfg.Session.Cooldown.Duration)
	require.Equal(t, "secret-key", cfg.Indexer.APIKey)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, int64(84532), cfg.Chain.ChainID)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Indexer.APIKey = "k"
	cfg.Postgres.Password = ""

	out := RedactedConfig(&cfg)
	require.Equal(t, redacted, out.Wallet.PrivateKey)
	require.Equal(t, redacted, out.Indexer.APIKey)
	require.Empty(t, out.Postgres.Password)
	require.Equal(t, "0xabc", cfg.Wallet.PrivateKey)

	out.Server.CORSOrigins[0] = "mutated"
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
