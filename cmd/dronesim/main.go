// Command dronesim runs the drone environments locally, serves them over
// TCP and renders reward sweeps.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	task       string
	logLevel   string
	dotEnv     []string

	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "dronesim",
		Short:        "Drone flight environments for reinforcement learning",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(opts.dotEnv...); err != nil {
				return err
			}
			level := opts.logLevel
			if level == "" {
				level = os.Getenv("DRONESIM_LOG_LEVEL")
			}
			opts.logger = logging.NewLoggerWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(level))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "simulation config file (JSON, or YAML by extension)")
	flags.StringVar(&opts.task, "task", string(config.TaskDirection), "task used when no config file is given: direction or obstacle")
	flags.StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (default from DRONESIM_LOG_LEVEL)")
	flags.StringSliceVar(&opts.dotEnv, "env-file", nil, ".env files to load before reading DRONESIM_* variables")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newRemoteCmd(opts),
		newSweepCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func parseTask(name string) (config.Task, error) {
	switch t := config.Task(name); t {
	case config.TaskDirection, config.TaskObstacle:
		return t, nil
	}
	return "", fmt.Errorf("unknown task %q (want %s or %s)", name, config.TaskDirection, config.TaskObstacle)
}

// simConfig loads the config file, or the task defaults when there is none,
// and applies DRONESIM_* overrides.
func (o *rootOptions) simConfig(ctx context.Context) (*config.SimConfig, error) {
	task, err := parseTask(o.task)
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig(task)
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			o.logger.Info(ctx, "Configuration file not found, using defaults",
				"config_path", o.configPath,
				"task", task,
			)
		case err != nil:
			return nil, err
		default:
			cfg = loaded
		}
	}

	if err := config.ApplyEnvironmentOverrides(cfg); err != nil {
		return nil, logging.WrapError(err, "applying environment overrides")
	}
	return cfg, nil
}
