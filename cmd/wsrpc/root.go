package main

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ws-rpc/codec"
	"ws-rpc/config"
	"ws-rpc/logging"
)

// globals holds the flags shared by every subcommand.
type globals struct {
	configPath string
	address    string
	codec      string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "wsrpc",
		Short:         "Request/response RPC over a single WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&g.address, "address", "", "server address (ws://, wss:// or tcp://)")
	flags.StringVar(&g.codec, "codec", "", "envelope codec: msgpack or json")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(g),
		newSumCommand(g),
		newEchoCommand(g),
	)
	return root
}

// load reads the config file, if any, and applies flag overrides.
func (g *globals) load() (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	if g.address != "" {
		cfg.Address = g.address
	}
	if g.codec != "" {
		t, err := codec.ParseCodecType(g.codec)
		if err != nil {
			return config.Config{}, errors.Trace(err)
		}
		cfg.Codec = t
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Environment variables win over the
// config file.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if err := logging.SetLevel(&lc, cfg.LogLevel); err != nil {
		return nil, errors.Trace(err)
	}
	logging.ApplyEnv(&lc)
	return logging.New(lc)
}
