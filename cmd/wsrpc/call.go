package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ws-rpc/client"
	"ws-rpc/config"
	"ws-rpc/loadbalance"
	"ws-rpc/registry"
)

func newSumCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sum OPERAND...",
		Short: "Add unsigned integers on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operands := make([]uint64, 0, len(args))
			for _, arg := range args {
				v, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return errors.NotValidf("operand %q", arg)
				}
				operands = append(operands, v)
			}
			return withClient(cmd.Context(), g, func(c *client.Client) error {
				sum, err := c.Sum(cmd.Context(), operands)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
}

func newEchoCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "echo TEXT...",
		Short: "Have the server echo text back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), g, func(c *client.Client) error {
				text, err := c.Echo(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
}

// withClient opens a client from the loaded config, runs fn, and closes
// the client.
func withClient(ctx context.Context, g *globals, fn func(*client.Client) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c := client.New(client.WithLogger(logger), client.WithCodec(cfg.Codec))
	if err := open(ctx, c, cfg, logger); err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func open(ctx context.Context, c *client.Client, cfg config.Config, logger *zap.Logger) error {
	if cfg.Address != "" {
		return c.Open(ctx, cfg.Address)
	}
	if len(cfg.Registry.Endpoints) == 0 {
		return errors.NotValidf("no address and no registry endpoints")
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
	if err != nil {
		return errors.Trace(err)
	}
	defer reg.Close()
	bal, err := loadbalance.New(cfg.Registry.Balancer, "")
	if err != nil {
		return errors.Trace(err)
	}
	return c.OpenService(ctx, reg, bal, cfg.Registry.Service)
}
