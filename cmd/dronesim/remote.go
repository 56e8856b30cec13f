package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/go-dronegym/pkg/network"
	"github.com/opd-ai/go-dronegym/pkg/rollout"
)

func newRemoteCmd(opts *rootOptions) *cobra.Command {
	var (
		flags rolloutFlags
		addr  string
		name  string
	)

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run episodes against a dronesim server, one session per worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if addr == "" {
				cfg, err := opts.simConfig(ctx)
				if err != nil {
					return err
				}
				addr = cfg.Network.ServerAddress
			}
			policies, err := flags.policies()
			if err != nil {
				return err
			}

			envs := func(ctx context.Context, worker int, seed uint64) (rollout.Environment, error) {
				c, err := network.Dial(ctx, addr, fmt.Sprintf("%s-%d", name, worker),
					network.WithClientLogger(opts.logger),
					network.WithSeed(seed),
				)
				if err != nil {
					return nil, err
				}
				opts.logger.Info(ctx, "Connected to environment server",
					"address", addr,
					"session_id", c.SessionID(),
					"task", c.Task(),
					"seed", seed,
				)
				return c, nil
			}

			episodes, err := rollout.NewRunner(envs, policies, flags.options(nil), opts.logger).Run(ctx)
			if err != nil {
				return err
			}
			return printEpisodes(cmd.OutOrStdout(), episodes, flags.jsonOut)
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (default from the config)")
	cmd.Flags().StringVar(&name, "name", "trainer", "client name sent in the handshake")
	return cmd
}
