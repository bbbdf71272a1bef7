// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	switch cfg.Network {
	case "mainnet", "testnet", "regtest":
	case "":
		return ErrInvalidNetwork
	default:
		// Custom names are checked against the network file when it is loaded.
		if cfg.NetworkFile == "" {
			return ErrInvalidNetwork
		}
	}

	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
		}
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return ErrInvalidLogFormat
	}

	if cfg.Store != StoreBolt && cfg.Store != StoreSQLite {
		return ErrInvalidStore
	}
	if cfg.ChainProvider != ChainREST && cfg.ChainProvider != ChainRPC {
		return ErrInvalidChainProvider
	}

	if cfg.ReadRetries < 0 {
		return ErrInvalidReadRetries
	}

	if cfg.FeeRate == 0 {
		return ErrInvalidFeeRate
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"requestTimeout", cfg.RequestTimeout},
		{"broadcastTimeout", cfg.BroadcastTimeout},
		{"reservationGrace", cfg.ReservationGrace},
		{"retentionWindow", cfg.RetentionWindow},
		{"sweepInterval", cfg.SweepInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s = %s", ErrInvalidDuration, d.name, d.d)
		}
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
