package network

import (
	"fmt"
	"time"
)

// DefaultTimeout bounds every chain request unless configured otherwise.
const DefaultTimeout = 30 * time.Second

// RPCConfig holds the connection parameters for a BSV node's JSON-RPC interface.
type RPCConfig struct {
	URL      string        `json:"url"`
	User     string        `json:"user"`
	Password string        `json:"password"`
	Network  string        `json:"network"`
	Timeout  time.Duration `json:"timeout"`
}

// RESTConfig holds the parameters of a WhatsOnChain-style REST backend.
type RESTConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	// RequestsPerSecond caps the request rate; zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// NetworkPresets contains default RPC configurations for known networks.
// Mainnet is intentionally omitted to require explicit configuration.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "ledger", Password: "ledger"},
	"testnet": {URL: "http://localhost:18333", User: "ledger", Password: "ledger"},
}

// RESTPresets maps network names to public REST endpoints.
var RESTPresets = map[string]string{
	"mainnet": "https://api.whatsonchain.com/v1/bsv/main",
	"testnet": "https://api.whatsonchain.com/v1/bsv/test",
}

// ResolveConfig merges RPC configuration from three sources with decreasing priority:
//  1. CLI flags (highest priority)
//  2. Environment variables (LEDGER_RPC_URL, LEDGER_RPC_USER, LEDGER_RPC_PASS)
//  3. Network presets (lowest priority, regtest/testnet only)
//
// For mainnet, explicit configuration is required -- there is no preset.
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}

	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if env != nil {
		if v, ok := env["LEDGER_RPC_URL"]; ok && v != "" {
			result.URL = v
		}
		if v, ok := env["LEDGER_RPC_USER"]; ok && v != "" {
			result.User = v
		}
		if v, ok := env["LEDGER_RPC_PASS"]; ok && v != "" {
			result.Password = v
		}
	}

	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.User != "" {
			result.User = flags.User
		}
		if flags.Password != "" {
			result.Password = flags.Password
		}
		if flags.Timeout > 0 {
			result.Timeout = flags.Timeout
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("%w: %s requires explicit RPC configuration (set --rpc-url or LEDGER_RPC_URL)", ErrInvalidConfig, network)
	}
	if result.Timeout <= 0 {
		result.Timeout = DefaultTimeout
	}

	return &result, nil
}

// ResolveRESTConfig fills BaseURL from RESTPresets when it is empty.
func ResolveRESTConfig(cfg RESTConfig, network string) (*RESTConfig, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = RESTPresets[network]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: no REST endpoint for network %q", ErrInvalidConfig, network)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &cfg, nil
}
