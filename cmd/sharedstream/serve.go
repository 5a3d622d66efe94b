package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"sharedstream/internal/config"
	"sharedstream/internal/metrics"
	"sharedstream/internal/pingpong"
	"sharedstream/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		listen        string
		idleTimeout   time.Duration
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the PONG responder",
		Long: `Accept connections and answer every PING with a PONG carrying the same
sequence number. Runs until interrupted.

Example:
  sharedstream serve --listen 0.0.0.0:7300 -p websocket`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(func(c *config.Config) {
				if cmd.Flags().Changed("listen") {
					c.Server.Listen = listen
				}
				if cmd.Flags().Changed("idle-timeout") {
					c.Server.IdleTimeout = idleTimeout
				}
				if cmd.Flags().Changed("metrics-listen") {
					c.Server.MetricsListen = metricsListen
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			ln, err := transport.Listen(ctx, cfg.Server.Protocol, cfg.Server.Listen)
			if err != nil {
				return err
			}

			out := newOutput(cmd.OutOrStdout())

			var m *metrics.Metrics
			if cfg.Server.MetricsListen != "" {
				m = metrics.New()
				ms, err := m.Listen(ctx, cfg.Server.MetricsListen, logger)
				if err != nil {
					_ = ln.Close()
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = ms.Shutdown(sctx)
				}()
				out.info("metrics on http://%s/metrics", ms.Addr())
			}

			r := pingpong.NewResponder(ln, pingpong.ResponderConfig{
				IdleTimeout: cfg.Server.IdleTimeout,
				Logger:      logger,
				Metrics:     m,
			})

			out.info("listening on %s (%s)", ln.Addr(), cfg.Server.Protocol)

			serveErr := r.Serve(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := r.Shutdown(shutdownCtx); err != nil && serveErr == nil {
				serveErr = err
			}
			if serveErr == nil {
				out.success("responder stopped")
			}
			return serveErr
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Close sessions idle for this long (0 disables)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	return cmd
}
