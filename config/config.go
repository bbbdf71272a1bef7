// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_NETWORK.
const EnvPrefix = "ledger"

// Store backends.
const (
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
)

// Chain providers.
const (
	ChainREST = "rest"
	ChainRPC  = "rpc"
)

// Config holds everything ledgerctl needs to run.
type Config struct {
	DataDir   string `yaml:"dataDir"   envconfig:"DATA_DIR"`
	Network   string `yaml:"network"   envconfig:"NETWORK"`
	LogLevel  string `yaml:"logLevel"  envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" envconfig:"LOG_FORMAT"` // console or json
	Store     string `yaml:"store"     envconfig:"STORE"`      // bolt or sqlite

	WalletFile  string `yaml:"walletFile"  envconfig:"WALLET_FILE"`
	NetworkFile string `yaml:"networkFile" envconfig:"NETWORK_FILE"` // JSON definition of a custom network

	ChainProvider     string        `yaml:"chainProvider"     envconfig:"CHAIN_PROVIDER"` // rest or rpc
	ChainURL          string        `yaml:"chainURL"          envconfig:"CHAIN_URL"`      // empty selects the network preset
	RPCUser           string        `yaml:"rpcUser"           envconfig:"RPC_USER"`
	RPCPassword       string        `yaml:"rpcPassword"       envconfig:"RPC_PASS"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"    envconfig:"REQUEST_TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" envconfig:"REQUESTS_PER_SECOND"`
	UnspentCacheTTL   time.Duration `yaml:"unspentCacheTTL"   envconfig:"UNSPENT_CACHE_TTL"`
	ReadRetries       int           `yaml:"readRetries"       envconfig:"READ_RETRIES"` // retries of transport failures on reads

	FeeRate          uint64        `yaml:"feeRate"          envconfig:"FEE_RATE"` // sat/KB
	BroadcastTimeout time.Duration `yaml:"broadcastTimeout" envconfig:"BROADCAST_TIMEOUT"`
	ReservationGrace time.Duration `yaml:"reservationGrace" envconfig:"RESERVATION_GRACE"`
	RetentionWindow  time.Duration `yaml:"retentionWindow"  envconfig:"RETENTION_WINDOW"`
	SweepInterval    time.Duration `yaml:"sweepInterval"    envconfig:"SWEEP_INTERVAL"`

	MetricsAddr string `yaml:"metricsAddr" envconfig:"METRICS_ADDR"` // empty disables /metrics
}

// DefaultDataDir returns ~/.ledger, or .ledger when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledger"
	}
	return filepath.Join(home, ".ledger")
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		DataDir:           dataDir,
		Network:           "mainnet",
		LogLevel:          "info",
		LogFormat:         "console",
		Store:             StoreBolt,
		WalletFile:        filepath.Join(dataDir, "wallet.json"),
		ChainProvider:     ChainREST,
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 3,
		UnspentCacheTTL:   10 * time.Second,
		ReadRetries:       3,
		FeeRate:           10,
		BroadcastTimeout:  30 * time.Second,
		ReservationGrace:  10 * time.Minute,
		RetentionWindow:   30 * 24 * time.Hour,
		SweepInterval:     time.Minute,
	}
}

// LoadConfig layers the YAML file at path, then LEDGER_* environment
// variables, over DefaultConfig. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfigFile, path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: environment: %w", ErrInvalidConfigFile, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
