package main

import (
	"github.com/spf13/cobra"

	"sharedstream/internal/config"
	corelog "sharedstream/internal/core/log"
	"sharedstream/internal/version"
)

// globalOptions 全局标志
type globalOptions struct {
	configFile string
	protocol   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "sharedstream",
		Short: "Concurrent request/response over one shared duplex stream",
		Long: `sharedstream demonstrates a cloneable, lock-guarded duplex stream.

One goroutine writes PING frames while another reads PONG frames over
handles that share a single connection.

Quick Start:
  sharedstream serve --listen 127.0.0.1:7300
  sharedstream ping --addr 127.0.0.1:7300 --count 100 --window 8`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "Config file path (YAML)")
	pf.StringVarP(&opts.protocol, "protocol", "p", "", "Transport protocol: tcp/websocket/ws/quic/kcp")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug/info/warn/error")

	root.AddCommand(
		newServeCmd(opts),
		newPingCmd(opts),
		newProtocolsCmd(),
		newVersionCmd(),
	)
	return root
}

// load 加载配置并应用全局标志；overrides 用于子命令标志
func (o *globalOptions) load(overrides func(*config.Config)) (*config.Config, corelog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}

	if o.protocol != "" {
		cfg.Transport.Protocol = o.protocol
		cfg.Server.Protocol = o.protocol
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if overrides != nil {
		overrides(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := corelog.Configure(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
