package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sharedstream/internal/config"
	coreerrors "sharedstream/internal/core/errors"
	"sharedstream/internal/pingpong"
	"sharedstream/internal/transport"
)

func newPingCmd(opts *globalOptions) *cobra.Command {
	var (
		addr    string
		count   int
		window  int
		rate    float64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send PINGs and wait for PONGs over one shared stream",
		Long: `Dial the responder and pipeline PING requests from a writer handle while
a cloned reader handle collects the PONG replies.

Example:
  sharedstream ping --addr 127.0.0.1:7300 --count 100 --window 8 --rate 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(func(c *config.Config) {
				f := cmd.Flags()
				if f.Changed("addr") {
					c.Transport.Address = addr
				}
				if f.Changed("count") {
					c.Ping.Count = count
				}
				if f.Changed("window") {
					c.Ping.Window = window
				}
				if f.Changed("rate") {
					c.Ping.Rate = rate
				}
				if f.Changed("timeout") {
					c.Ping.Timeout = timeout
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := transport.Dial(ctx, cfg.Transport.Protocol, cfg.Transport.Address)
			if err != nil {
				return err
			}

			p := pingpong.NewPinger(conn, pingpong.PingerConfig{
				Count:    cfg.Ping.Count,
				Window:   cfg.Ping.Window,
				Rate:     cfg.Ping.Rate,
				Timeout:  cfg.Ping.Timeout,
				Interval: cfg.Ping.Interval,
				Logger:   logger,
			})
			defer p.Close()

			out := newOutput(cmd.OutOrStdout())
			out.info("PING %s (%s) window=%d", cfg.Transport.Address, cfg.Transport.Protocol, cfg.Ping.Window)

			res, runErr := p.Run(ctx)
			printSummary(out, res)

			if runErr != nil {
				// Ctrl+C 结束无限 ping 不算失败
				if ctx.Err() != nil && cfg.Ping.Count == 0 && !coreerrors.IsFatal(runErr) {
					return nil
				}
				return runErr
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&addr, "addr", "a", "", "Responder address (default from config)")
	f.IntVarP(&count, "count", "n", 0, "Number of PINGs, 0 runs until interrupted")
	f.IntVarP(&window, "window", "w", 1, "Maximum outstanding PINGs")
	f.Float64VarP(&rate, "rate", "r", 0, "PINGs per second, 0 is unlimited")
	f.DurationVar(&timeout, "timeout", 0, "Reply timeout per PING (0 disables)")
	return cmd
}

func printSummary(out *output, res *pingpong.Result) {
	if res == nil {
		return
	}
	out.header("Summary")
	out.keyValue("sent", fmt.Sprintf("%d", res.Sent))
	out.keyValue("received", fmt.Sprintf("%d", res.Received))

	lost := fmt.Sprintf("%d", res.Lost())
	if res.Lost() > 0 {
		lost = out.red(lost)
	} else {
		lost = out.green(lost)
	}
	out.keyValue("lost", lost)
	out.keyValue("elapsed", res.Elapsed.Round(time.Millisecond).String())

	if res.Received > 0 {
		out.keyValue("rtt min/avg/p50/max", fmt.Sprintf("%s / %s / %s / %s",
			res.Min.Round(time.Microsecond), res.Avg.Round(time.Microsecond),
			res.P50.Round(time.Microsecond), res.Max.Round(time.Microsecond)))
	}
}
