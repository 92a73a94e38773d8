package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const sample = `
server:
  port: "9090"
chain:
  rpc_url: ws://localhost:8546
  owner: "0x00000000000000000000000000000000000000aa"
  requests_per_second: 20
  burst: 5
  addresses:
    price_feed: "0x0000000000000000000000000000000000000001"
    vault_manager: "0x0000000000000000000000000000000000000002"
    sorted_vaults: "0x0000000000000000000000000000000000000003"
    hint_helpers: "0x0000000000000000000000000000000000000004"
    stability_pool: "0x0000000000000000000000000000000000000005"
mirror:
  fallback_refresh: 45s
hint:
  max_redemption_iterations: 50
protocol:
  deployed_at: 2026-01-01T00:00:00Z
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Chain.Addresses.SortedVaults != common.HexToAddress("0x03") {
		t.Errorf("sorted vaults = %s", cfg.Chain.Addresses.SortedVaults.Hex())
	}
	if cfg.OwnerAddress() != common.HexToAddress("0xaa") {
		t.Errorf("owner = %s", cfg.OwnerAddress().Hex())
	}
	if cfg.Mirror.FallbackRefresh != 45*time.Second {
		t.Errorf("fallback refresh = %s", cfg.Mirror.FallbackRefresh)
	}
	if cfg.Hint.MaxRedemptionIterations != 50 {
		t.Errorf("max iterations = %d", cfg.Hint.MaxRedemptionIterations)
	}
	if !cfg.Protocol.DeployedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("deployed at = %s", cfg.Protocol.DeployedAt)
	}

	// Untouched settings keep their defaults.
	if cfg.Hint.MaxTrialsPerCall != 2500 {
		t.Errorf("max trials per call = %d, want default 2500", cfg.Hint.MaxTrialsPerCall)
	}
	if cfg.Slippage().String() != "0.001" {
		t.Errorf("slippage = %s, want default 0.001", cfg.Slippage())
	}
	if cfg.NATS.SubjectPrefix != "vaultmirror" {
		t.Errorf("subject prefix = %q", cfg.NATS.SubjectPrefix)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("RPC_URL", "ws://node:8546")
	t.Setenv("DATABASE_URL", "postgres://localhost/vaults")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Chain.RPCURL != "ws://node:8546" {
		t.Errorf("env not applied: port %q rpc %q", cfg.Server.Port, cfg.Chain.RPCURL)
	}
	if cfg.Storage.DatabaseURL != "postgres://localhost/vaults" || cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("env not applied: db %q nats %q", cfg.Storage.DatabaseURL, cfg.NATS.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc url", func(c *Config) { c.Chain.RPCURL = "" }},
		{"bad owner", func(c *Config) { c.Chain.Owner = "alice" }},
		{"missing price feed", func(c *Config) { c.Chain.Addresses.PriceFeed = common.Address{} }},
		{"zero trials per call", func(c *Config) { c.Hint.MaxTrialsPerCall = 0 }},
		{"bad slippage", func(c *Config) { c.Hint.SlippageTolerance = "lots" }},
		{"slippage above one", func(c *Config) { c.Hint.SlippageTolerance = "1.5" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sample))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
