package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/libledger-go/config"
)

const programName = "ledgerctl"

var globalFlags = struct {
	configFile string
	dataDir    string
	network    string
	debug      bool
}{}

// loadConfig resolves the config file (flag, then the default location if it
// exists), applies flag overrides and validates the result.
func loadConfig() (config.Config, error) {
	path := globalFlags.configFile
	if path == "" {
		dataDir := globalFlags.dataDir
		if dataDir == "" {
			dataDir = config.DefaultDataDir()
		}
		candidate := config.ConfigPath(dataDir)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if globalFlags.dataDir != "" {
		if cfg.WalletFile == filepath.Join(cfg.DataDir, "wallet.json") {
			cfg.WalletFile = filepath.Join(globalFlags.dataDir, "wallet.json")
		}
		cfg.DataDir = globalFlags.dataDir
	}
	if globalFlags.network != "" {
		cfg.Network = globalFlags.network
	}
	if globalFlags.debug {
		cfg.LogLevel = "debug"
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("component", programName).Logger()
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Track funding outputs and publish data transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globalFlags.configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.network, "network", "n", "", "mainnet, testnet or regtest (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		syncCommand(),
		balanceCommand(),
		addCommand(),
		publishCommand(),
		splitCommand(),
		sweepCommand(),
		cleanupCommand(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		stop()
		os.Exit(1)
	}
}
