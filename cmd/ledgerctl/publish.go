package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libledger-go/publish"
	"github.com/bitfsorg/libledger-go/selector"
)

// payloadFlags collects data pushes given as text, hex or file contents.
type payloadFlags struct {
	text  []string
	hexes []string
	files []string
}

func (p *payloadFlags) pushes() ([][]byte, error) {
	var out [][]byte
	for _, s := range p.text {
		out = append(out, []byte(s))
	}
	for _, h := range p.hexes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("--hex %q: %w", h, err)
		}
		out = append(out, b)
	}
	for _, f := range p.files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nothing to publish: use --data, --hex or --file")
	}
	return out, nil
}

func publishCommand() *cobra.Command {
	var (
		payload    payloadFlags
		policyName string
		minChange  uint64
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish data in an OP_FALSE OP_RETURN output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pushes, err := payload.pushes()
			if err != nil {
				return err
			}
			req := publish.Request{Payload: pushes, Target: minChange}
			if policyName != "" {
				policy, err := selector.ParsePolicy(policyName)
				if err != nil {
					return err
				}
				req.Policy = &policy
			}
			return withApp(cmd, func(a *app) error {
				id, err := a.identity()
				if err != nil {
					return err
				}
				p, err := a.pipeline(id)
				if err != nil {
					return err
				}
				run := p.Start(cmd.Context(), req)
				for ev := range run.Events() {
					a.logger.Info().Str("stage", ev.Stage.String()).Msg("publish progress")
				}
				res, err := run.Wait()
				if err != nil {
					if res != nil {
						a.logger.Error().Str("txid", res.TransactionID).Msg("transaction broadcast but not recorded")
					}
					return err
				}
				return a.print(res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&payload.text, "data", nil, "UTF-8 data push (repeatable)")
	cmd.Flags().StringArrayVar(&payload.hexes, "hex", nil, "hex data push (repeatable)")
	cmd.Flags().StringArrayVar(&payload.files, "file", nil, "push the contents of a file (repeatable)")
	cmd.Flags().StringVar(&policyName, "policy", "", "selection policy: smallest-first or largest-first")
	cmd.Flags().Uint64Var(&minChange, "min-change", 0, "minimum change the transaction must return")
	return cmd
}

func splitCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split the largest available output into equal parts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				id, err := a.identity()
				if err != nil {
					return err
				}
				p, err := a.pipeline(id)
				if err != nil {
					return err
				}
				res, err := p.Split(cmd.Context(), count)
				if err != nil {
					return err
				}
				return a.print(res)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 10, "number of outputs to create")
	return cmd
}
