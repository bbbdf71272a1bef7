// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"regtest\")")

	// ErrInvalidListenAddr indicates the metrics listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrInvalidLogFormat indicates the log format is not recognized.
	ErrInvalidLogFormat = errors.New("config: invalid log format (must be \"console\" or \"json\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidStore indicates the store backend is not recognized.
	ErrInvalidStore = errors.New("config: invalid store (must be \"bolt\" or \"sqlite\")")

	// ErrInvalidChainProvider indicates the chain provider is not recognized.
	ErrInvalidChainProvider = errors.New("config: invalid chain provider (must be \"rest\" or \"rpc\")")

	// ErrInvalidDuration indicates a timeout or interval is not positive.
	ErrInvalidDuration = errors.New("config: duration must be positive")

	// ErrInvalidReadRetries indicates a negative read retry count.
	ErrInvalidReadRetries = errors.New("config: read retries must not be negative")

	// ErrInvalidFeeRate indicates a zero fee rate.
	ErrInvalidFeeRate = errors.New("config: fee rate must be positive")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the configuration file or environment
	// could not be decoded.
	ErrInvalidConfigFile = errors.New("config: invalid configuration")
)
