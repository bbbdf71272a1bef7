package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bitfsorg/libledger-go/config"
	"github.com/bitfsorg/libledger-go/ledger"
	"github.com/bitfsorg/libledger-go/network"
	"github.com/bitfsorg/libledger-go/publish"
	"github.com/bitfsorg/libledger-go/tx"
	"github.com/bitfsorg/libledger-go/wallet"
)

// app holds the components one command invocation needs.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	network *wallet.NetworkConfig
	ledger  *ledger.Ledger
	chain   network.BlockchainService
	reader  *network.RetryReader // chain reads with transport retries
	cached  *network.CachedLister
	out     io.Writer
}

// newApp loads configuration and opens the ledger and chain backend.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	net, err := resolveNetwork(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(store,
		ledger.WithLogger(logger),
		ledger.WithAuditor(ledger.NewLogAuditor(logger)),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	chain, err := openChain(cfg, net)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	reader := network.NewRetryReader(chain, cfg.ReadRetries, network.DefaultRetryInterval)

	return &app{
		cfg:     cfg,
		logger:  logger,
		network: net,
		ledger:  l,
		chain:   chain,
		reader:  reader,
		cached:  network.NewCachedLister(reader, cfg.UnspentCacheTTL),
		out:     cmd.OutOrStdout(),
	}, nil
}

// resolveNetwork returns the configured network, loading the custom
// network file when one is set.
func resolveNetwork(cfg config.Config) (*wallet.NetworkConfig, error) {
	if cfg.NetworkFile == "" {
		return wallet.GetNetwork(cfg.Network)
	}
	custom, err := wallet.LoadCustomNetwork(cfg.NetworkFile)
	if err != nil {
		return nil, err
	}
	if custom.Name == cfg.Network {
		return custom, nil
	}
	if net, err := wallet.GetNetwork(cfg.Network); err == nil {
		return net, nil
	}
	return nil, fmt.Errorf("%w: %q is neither predefined nor defined in %s",
		wallet.ErrInvalidNetwork, cfg.Network, cfg.NetworkFile)
}

// rpcURL returns the configured RPC endpoint. Custom networks without one
// fall back to their RPC port on localhost.
func rpcURL(cfg config.Config, net *wallet.NetworkConfig) string {
	if cfg.ChainURL != "" {
		return cfg.ChainURL
	}
	if _, err := wallet.GetNetwork(net.Name); err == nil || net.RPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d", net.RPCPort)
}

func openStore(cfg config.Config) (ledger.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return ledger.OpenSQLStore(cfg.DataDir)
	case config.StoreBolt:
		return ledger.OpenBoltStore(filepath.Join(cfg.DataDir, "ledger.db"))
	}
	return nil, fmt.Errorf("%w: %q", config.ErrInvalidStore, cfg.Store)
}

func openChain(cfg config.Config, net *wallet.NetworkConfig) (network.BlockchainService, error) {
	switch cfg.ChainProvider {
	case config.ChainRPC:
		rpcCfg, err := network.ResolveConfig(&network.RPCConfig{
			URL:      rpcURL(cfg, net),
			User:     cfg.RPCUser,
			Password: cfg.RPCPassword,
			Timeout:  cfg.RequestTimeout,
		}, nil, net.Name)
		if err != nil {
			return nil, err
		}
		return network.NewRPCClient(*rpcCfg), nil
	case config.ChainREST:
		restCfg, err := network.ResolveRESTConfig(network.RESTConfig{
			BaseURL:           cfg.ChainURL,
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, net.Name)
		if err != nil {
			return nil, err
		}
		return network.NewRESTClient(*restCfg, nil)
	}
	return nil, fmt.Errorf("%w: %q", config.ErrInvalidChainProvider, cfg.ChainProvider)
}

func (a *app) Close() error { return a.ledger.Close() }

// identity loads the wallet file and checks it belongs to the configured network.
func (a *app) identity() (*wallet.Identity, error) {
	id, err := wallet.LoadKeyFile(a.cfg.WalletFile, a.network)
	if err != nil {
		return nil, err
	}
	want := a.network
	if id.Network().Mainnet() != want.Mainnet() {
		return nil, fmt.Errorf("%w: wallet is for %s, config selects %s",
			wallet.ErrInvalidNetwork, id.Network().Name, want.Name)
	}
	return id, nil
}

// addresses returns explicit addresses, or the wallet address when none are given.
func (a *app) addresses(explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	id, err := a.identity()
	if err != nil {
		return nil, fmt.Errorf("no --address given and wallet unavailable: %w", err)
	}
	return []string{id.Address()}, nil
}

func (a *app) pipeline(id *wallet.Identity) (*publish.Pipeline, error) {
	builder := tx.NewBuilder(tx.FeePolicy{RatePerKB: a.cfg.FeeRate})
	return publish.New(a.ledger, builder, a.chain, id,
		publish.WithBroadcastTimeout(a.cfg.BroadcastTimeout),
		publish.WithInvalidator(a.cached),
		publish.WithLogger(a.logger),
	)
}

func (a *app) sweeper() (*ledger.Sweeper, error) {
	return ledger.NewSweeper(a.ledger, a.reader,
		ledger.WithGrace(a.cfg.ReservationGrace),
		ledger.WithStatusProvider(a.reader),
		ledger.WithScriptResolver(tx.LockingScript),
		ledger.WithSweeperLogger(a.logger),
	)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
