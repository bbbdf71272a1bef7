package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libledger-go/ledger"
	"github.com/bitfsorg/libledger-go/tx"
)

func syncCommand() *cobra.Command {
	var addresses []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import upstream unspent outputs the ledger does not track yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				addrs, err := a.addresses(addresses)
				if err != nil {
					return err
				}
				sw, err := ledger.NewSweeper(a.ledger, a.cached,
					ledger.WithScriptResolver(tx.LockingScript),
					ledger.WithSweeperLogger(a.logger),
				)
				if err != nil {
					return err
				}
				added := make(map[string]int, len(addrs))
				for _, addr := range addrs {
					n, err := sw.Sync(cmd.Context(), addr)
					if err != nil {
						return err
					}
					added[addr] = n
				}
				return a.print(added)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&addresses, "address", "a", nil, "address to sync (default: wallet address)")
	return cmd
}

func balanceCommand() *cobra.Command {
	var addresses []string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show balance and status breakdown per address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				addrs, err := a.addresses(addresses)
				if err != nil {
					return err
				}
				stats := make([]*ledger.WalletStats, 0, len(addrs))
				for _, addr := range addrs {
					s, err := a.ledger.Stats(cmd.Context(), addr)
					if err != nil {
						return err
					}
					stats = append(stats, s)
				}
				return a.print(stats)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&addresses, "address", "a", nil, "address to report (default: wallet address)")
	return cmd
}

func addCommand() *cobra.Command {
	var (
		address   string
		scriptHex string
	)
	cmd := &cobra.Command{
		Use:   "add <txid> <vout> <satoshis>",
		Short: "Track an output by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			vout, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("vout: %w", err)
			}
			sats, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("satoshis: %w", err)
			}
			return withApp(cmd, func(a *app) error {
				addrs, err := a.addresses(nonEmpty(address))
				if err != nil {
					return err
				}
				var script []byte
				if scriptHex != "" {
					if script, err = hex.DecodeString(scriptHex); err != nil {
						return fmt.Errorf("script: %w", err)
					}
				} else if script, err = tx.LockingScript(addrs[0]); err != nil {
					return err
				}
				out := &ledger.UnspentOutput{
					Outpoint:      ledger.Outpoint{TxID: args[0], Vout: uint32(vout)},
					Satoshis:      sats,
					LockingScript: script,
					OwnerAddress:  addrs[0],
				}
				if err := a.ledger.AddOutput(cmd.Context(), out); err != nil {
					return err
				}
				return a.print(out.Outpoint)
			})
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "owner address (default: wallet address)")
	cmd.Flags().StringVar(&scriptHex, "script", "", "locking script hex (default: P2PKH to the owner)")
	return cmd
}

func cleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete confirmed-spent outputs older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				n, err := a.ledger.CleanupConfirmedSpent(cmd.Context(), a.cfg.RetentionWindow)
				if err != nil {
					return err
				}
				return a.print(map[string]int{"removed": n})
			})
		},
	}
	return cmd
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
