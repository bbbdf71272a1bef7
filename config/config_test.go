// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DefaultConfig tests
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Network", cfg.Network, "mainnet"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "console"},
		{"Store", cfg.Store, StoreBolt},
		{"ChainProvider", cfg.ChainProvider, ChainREST},
		{"FeeRate", cfg.FeeRate, uint64(10)},
		{"ReadRetries", cfg.ReadRetries, 3},
		{"NetworkFile", cfg.NetworkFile, ""},
		{"ReservationGrace", cfg.ReservationGrace, 10 * time.Minute},
		{"MetricsAddr", cfg.MetricsAddr, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if filepath.Dir(cfg.WalletFile) != cfg.DataDir {
		t.Errorf("WalletFile = %q, want it inside %q", cfg.WalletFile, cfg.DataDir)
	}
}

// ---------------------------------------------------------------------------
// SaveConfig / LoadConfig round-trip tests
// ---------------------------------------------------------------------------

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := DefaultConfig()
	original.DataDir = "/tmp/test-ledger"
	original.Network = "testnet"
	original.LogLevel = "debug"
	original.Store = StoreSQLite
	original.ChainProvider = ChainRPC
	original.ChainURL = "http://localhost:18332"
	original.FeeRate = 50
	original.SweepInterval = 90 * time.Second
	original.MetricsAddr = ":9100"

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, original)
	}
}

func TestSaveConfigCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig should create parent dirs: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file not created: %v", err)
	}
}

// ---------------------------------------------------------------------------
// LoadConfig tests
// ---------------------------------------------------------------------------

func TestLoadConfigNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("LoadConfig nonexistent: got %v, want ErrConfigNotFound", err)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("network: [unterminated\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfigFile) {
		t.Errorf("LoadConfig bad yaml: got %v, want ErrInvalidConfigFile", err)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `# only override a few keys
network: testnet
broadcastTimeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
	if cfg.BroadcastTimeout != 5*time.Second {
		t.Errorf("BroadcastTimeout = %v, want 5s", cfg.BroadcastTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfigUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := "futureKey: futureValue\nnetwork: testnet\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig with unknown key: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want %q", cfg.Network, "testnet")
	}
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("network: testnet\nfeeRate: 20\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LEDGER_NETWORK", "regtest")
	t.Setenv("LEDGER_SWEEP_INTERVAL", "2m")
	t.Setenv("LEDGER_STORE", "sqlite")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != "regtest" {
		t.Errorf("Network = %q, want env override %q", cfg.Network, "regtest")
	}
	if cfg.FeeRate != 20 {
		t.Errorf("FeeRate = %d, want file value 20", cfg.FeeRate)
	}
	if cfg.SweepInterval != 2*time.Minute {
		t.Errorf("SweepInterval = %v, want 2m", cfg.SweepInterval)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("Store = %q, want %q", cfg.Store, StoreSQLite)
	}
}

func TestLoadConfigEnvironmentWithoutFile(t *testing.T) {
	t.Setenv("LEDGER_FEE_RATE", "not-a-number")

	_, err := LoadConfig("")
	if !errors.Is(err, ErrInvalidConfigFile) {
		t.Errorf("LoadConfig bad env: got %v, want ErrInvalidConfigFile", err)
	}
}

// ---------------------------------------------------------------------------
// ValidateConfig tests
// ---------------------------------------------------------------------------

func TestValidateConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig(DefaultConfig()) = %v, want nil", err)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{
			name:    "empty_datadir",
			modify:  func(c *Config) { c.DataDir = "" },
			wantErr: ErrEmptyDataDir,
		},
		{
			name:    "bad_network",
			modify:  func(c *Config) { c.Network = "devnet" },
			wantErr: ErrInvalidNetwork,
		},
		{
			name:    "empty_network_with_file",
			modify:  func(c *Config) { c.Network = ""; c.NetworkFile = "devnet.json" },
			wantErr: ErrInvalidNetwork,
		},
		{
			name:    "negative_read_retries",
			modify:  func(c *Config) { c.ReadRetries = -1 },
			wantErr: ErrInvalidReadRetries,
		},
		{
			name:    "bad_metrics_addr",
			modify:  func(c *Config) { c.MetricsAddr = "not-a-valid-addr" },
			wantErr: ErrInvalidListenAddr,
		},
		{
			name:    "bad_loglevel",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "bad_logformat",
			modify:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: ErrInvalidLogFormat,
		},
		{
			name:    "bad_store",
			modify:  func(c *Config) { c.Store = "badger" },
			wantErr: ErrInvalidStore,
		},
		{
			name:    "bad_chain_provider",
			modify:  func(c *Config) { c.ChainProvider = "grpc" },
			wantErr: ErrInvalidChainProvider,
		},
		{
			name:    "zero_fee_rate",
			modify:  func(c *Config) { c.FeeRate = 0 },
			wantErr: ErrInvalidFeeRate,
		},
		{
			name:    "zero_grace",
			modify:  func(c *Config) { c.ReservationGrace = 0 },
			wantErr: ErrInvalidDuration,
		},
		{
			name:    "negative_sweep_interval",
			modify:  func(c *Config) { c.SweepInterval = -time.Second },
			wantErr: ErrInvalidDuration,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := ValidateConfig(cfg)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateConfig: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateConfigValidNetworks(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "regtest"} {
		cfg := DefaultConfig()
		cfg.Network = network
		if err := ValidateConfig(cfg); err != nil {
			t.Errorf("ValidateConfig with network %q: %v", network, err)
		}
	}
}

func TestValidateConfigCustomNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "devnet"
	cfg.NetworkFile = filepath.Join(t.TempDir(), "devnet.json")
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig with a network file: %v", err)
	}

	cfg.ReadRetries = 0
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig with retries disabled: %v", err)
	}
}

func TestValidateConfigValidLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG"} {
		cfg := DefaultConfig()
		cfg.LogLevel = level
		if err := ValidateConfig(cfg); err != nil {
			t.Errorf("ValidateConfig with loglevel %q: %v", level, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func TestConfigPath(t *testing.T) {
	got := ConfigPath("/home/user/.ledger")
	want := filepath.Join("/home/user/.ledger", "config.yaml")
	if got != want {
		t.Errorf("ConfigPath = %q, want %q", got, want)
	}
}

func TestDefaultDataDir_EndsWith_DotLedger(t *testing.T) {
	dir := DefaultDataDir()
	if !strings.HasSuffix(dir, ".ledger") {
		t.Errorf("DefaultDataDir() = %q, want suffix %q", dir, ".ledger")
	}
}
