package main

import (
	"github.com/spf13/cobra"

	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/render"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var (
		out      string
		scene    string
		width    int
		height   int
		barWidth int
		seed     uint64
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Show the reward over candidate heights for a freshly reset episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.simConfig(ctx)
			if err != nil {
				return err
			}

			envOpts := []engine.Option{engine.WithLogger(opts.logger)}
			if cmd.Flags().Changed("seed") {
				envOpts = append(envOpts, engine.WithSeed(seed))
			}
			env, err := engine.NewEnv(cfg, envOpts...)
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.Reset(ctx); err != nil {
				return err
			}
			samples := env.Sweep()

			if scene != "" {
				r := render.NewImageRenderer(width, height, float64(height)/(cfg.Episode.SweepMax-cfg.Episode.SweepMin))
				r.SetCenter(env.Snapshot().Target)
				env.Render(r)
				if err := r.SavePNG(scene); err != nil {
					return err
				}
				opts.logger.Info(ctx, "Saved scene", "path", scene)
			}

			if out == "" {
				return render.WriteSweep(cmd.OutOrStdout(), samples, barWidth)
			}
			if err := render.SaveSweepPNG(out, samples, width, height); err != nil {
				return err
			}
			opts.logger.Info(ctx, "Saved reward sweep",
				"path", out,
				"samples", len(samples),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the sweep as PNG instead of text")
	cmd.Flags().StringVar(&scene, "scene", "", "also write the reset scene as PNG")
	cmd.Flags().IntVar(&width, "width", 200, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 400, "image height in pixels")
	cmd.Flags().IntVar(&barWidth, "bar-width", 40, "text bar width at full shade")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "episode seed (default from the config)")
	return cmd
}
