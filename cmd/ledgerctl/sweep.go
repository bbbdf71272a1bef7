package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func sweepCommand() *cobra.Command {
	var (
		addresses []string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale reservations and unconfirmed spends with the chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				addrs, err := a.addresses(addresses)
				if err != nil {
					return err
				}
				sw, err := a.sweeper()
				if err != nil {
					return err
				}
				if !watch {
					report, err := sw.Sweep(cmd.Context(), addrs...)
					if err != nil {
						return err
					}
					return a.print(report)
				}

				ctx := cmd.Context()
				if a.cfg.MetricsAddr != "" {
					stop := serveMetrics(ctx, a.cfg.MetricsAddr, a.logger)
					defer stop()
				}
				a.logger.Info().Strs("addresses", addrs).Dur("interval", a.cfg.SweepInterval).Msg("sweeping")
				return sw.Run(ctx, a.cfg.SweepInterval, addrs...)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&addresses, "address", "a", nil, "address to sweep (default: wallet address)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep sweeping every sweepInterval until interrupted")
	return cmd
}

// serveMetrics exposes /metrics on addr until the returned stop is called.
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-done
	}
}
