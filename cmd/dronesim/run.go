package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/render"
	"github.com/opd-ai/go-dronegym/pkg/rollout"
)

// rolloutFlags are shared by run and remote
type rolloutFlags struct {
	workers  int
	episodes int
	maxSteps int
	seed     uint64
	policy   string
	value    float64
	bias     float64
	gain     float64
	jsonOut  bool
}

func (f *rolloutFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&f.workers, "workers", "w", 1, "environments run in parallel")
	fs.IntVarP(&f.episodes, "episodes", "n", 1, "episodes per worker")
	fs.IntVar(&f.maxSteps, "max-steps", 500, "stop episodes that run longer (0 waits for the environment)")
	fs.Uint64Var(&f.seed, "seed", 1, "base seed for worker seeds")
	fs.StringVarP(&f.policy, "policy", "p", "random", "random, constant or hover")
	fs.Float64Var(&f.value, "value", 0, "thrust used by the constant policy")
	fs.Float64Var(&f.bias, "bias", 0.5, "base thrust of the hover policy")
	fs.Float64Var(&f.gain, "gain", 1, "height gain of the hover policy")
	fs.BoolVar(&f.jsonOut, "json", false, "print episodes as JSON lines")
}

func (f *rolloutFlags) policies() (rollout.PolicyFactory, error) {
	switch f.policy {
	case "random":
		return func(worker int, seed uint64) rollout.Policy { return rollout.RandomPolicy(seed) }, nil
	case "constant":
		p := rollout.ConstantPolicy(f.value)
		return func(int, uint64) rollout.Policy { return p }, nil
	case "hover":
		p := rollout.HoverPolicy(f.bias, f.gain)
		return func(int, uint64) rollout.Policy { return p }, nil
	}
	return nil, fmt.Errorf("unknown policy %q", f.policy)
}

func (f *rolloutFlags) options(hook rollout.StepHook) rollout.Options {
	return rollout.Options{
		Workers:           f.workers,
		EpisodesPerWorker: f.episodes,
		MaxSteps:          f.maxSteps,
		Seed:              f.seed,
		OnStep:            hook,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printEpisodes(w io.Writer, episodes []rollout.Episode, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		for _, ep := range episodes {
			if err := enc.Encode(ep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, ep := range episodes {
		status := "done"
		switch {
		case ep.Collided:
			status = "collided"
		case ep.Truncated:
			status = "truncated"
		case !ep.Done:
			status = "stopped"
		}
		fmt.Fprintf(w, "worker %d episode %d: steps=%d return=%.4f energy=%.3f distance=%.3f %s\n",
			ep.Worker, ep.Index, ep.Steps, ep.Return, ep.EnergyUsed, ep.FinalDistance, status)
	}
	s := rollout.Summarize(episodes)
	_, err := fmt.Fprintf(w, "%d episodes: mean return %.4f (std %.4f), mean steps %.1f, collision rate %.2f\n",
		s.Episodes, s.MeanReturn, s.StdReturn, s.MeanSteps, s.CollisionRate)
	return err
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  rolloutFlags
		show   bool
		width  int
		height int
		scale  float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run episodes against local environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := opts.simConfig(ctx)
			if err != nil {
				return err
			}
			policies, err := flags.policies()
			if err != nil {
				return err
			}

			// worker 0's environment and its hook run on the same goroutine
			var shown *engine.Env
			var terminal *render.TerminalRenderer
			var hook rollout.StepHook
			if show {
				terminal = render.NewTerminalRenderer(cmd.OutOrStdout(), width, height, scale)
				terminal.SetClearScreen(true)
				hook = func(worker int, res engine.StepResult) {
					if worker != 0 || shown == nil {
						return
					}
					terminal.SetCenter(shown.Snapshot().Target)
					shown.Render(terminal)
				}
			}

			envs := func(ctx context.Context, worker int, seed uint64) (rollout.Environment, error) {
				env, err := engine.NewEnv(cfg, engine.WithSeed(seed), engine.WithLogger(opts.logger))
				if err != nil {
					return nil, err
				}
				if worker == 0 {
					shown = env
				}
				return env, nil
			}

			episodes, err := rollout.NewRunner(envs, policies, flags.options(hook), opts.logger).Run(ctx)
			if err != nil {
				return err
			}
			return printEpisodes(cmd.OutOrStdout(), episodes, flags.jsonOut)
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&show, "render", false, "draw worker 0 in the terminal after every step")
	cmd.Flags().IntVar(&width, "width", 60, "terminal view width in characters")
	cmd.Flags().IntVar(&height, "height", 20, "terminal view height in characters")
	cmd.Flags().Float64Var(&scale, "scale", 0.25, "world units per character")
	return cmd
}
