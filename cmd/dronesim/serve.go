package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/go-dronegym/pkg/config"
	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/event"
	"github.com/opd-ai/go-dronegym/pkg/health"
	"github.com/opd-ai/go-dronegym/pkg/logging"
	"github.com/opd-ai/go-dronegym/pkg/network"
	"github.com/opd-ai/go-dronegym/pkg/resource"
	"github.com/opd-ai/go-dronegym/pkg/telemetry"
)

type serveFlags struct {
	addr          string
	healthAddr    string
	telemetryAddr string
	maxSessions   int
	ratePerMinute int
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve environments over TCP with health and telemetry endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := opts.simConfig(ctx)
			if err != nil {
				return err
			}
			envCfg, err := config.LoadConfigFromEnv()
			if err != nil {
				return logging.WrapError(err, "reading service settings")
			}
			if cmd.Flags().Changed("addr") {
				cfg.Network.ServerAddress = flags.addr
			}
			if cmd.Flags().Changed("max-sessions") {
				cfg.Network.MaxSessions = flags.maxSessions
			}
			if cmd.Flags().Changed("telemetry-addr") {
				cfg.Network.TelemetryAddress = flags.telemetryAddr
			}
			if !cmd.Flags().Changed("health-addr") {
				flags.healthAddr = envCfg.HealthAddr
			}
			return serve(ctx, cfg, envCfg, flags, opts.logger)
		},
	}

	cmd.Flags().StringVarP(&flags.addr, "addr", "a", "", "environment server address (default from the config)")
	cmd.Flags().StringVar(&flags.healthAddr, "health-addr", "", "health endpoint address (default DRONESIM_HEALTH_ADDR or :8080)")
	cmd.Flags().StringVar(&flags.telemetryAddr, "telemetry-addr", "", "telemetry WebSocket address; empty disables it")
	cmd.Flags().IntVar(&flags.maxSessions, "max-sessions", 0, "concurrent session limit (default from the config)")
	cmd.Flags().IntVar(&flags.ratePerMinute, "rate-limit", 0, "messages per minute per session; 0 disables the limit")
	return cmd
}

func serve(ctx context.Context, cfg *config.SimConfig, envCfg *config.EnvironmentConfig, flags serveFlags, logger *logging.Logger) error {
	rm := resource.NewResourceManager(envCfg, logger)
	if err := rm.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envCfg.ShutdownTimeout)
		defer cancel()
		if err := rm.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "Resource manager shutdown failed", err)
		}
	}()

	bus := event.NewEventBus()
	hub := telemetry.NewHub(logger, 0)
	defer hub.Attach(bus)()
	defer hub.Close()

	factory := func(sessionID string) (*engine.Env, error) {
		return engine.NewEnv(cfg,
			engine.WithSeed(network.SessionSeed(cfg.Episode.Seed, sessionID)),
			engine.WithLogger(logger),
			engine.WithEventBus(bus),
		)
	}
	server := network.NewEnvServer(factory, network.ServerOptions{
		MaxSessions:          cfg.Network.MaxSessions,
		ReadTimeout:          envCfg.ReadTimeout,
		WriteTimeout:         envCfg.WriteTimeout,
		MaxMessagesPerMinute: flags.ratePerMinute,
	}, rm, logger)

	checker := health.NewHealthChecker()
	checker.AddCheck(health.NewServerHealthCheck(server.Running))
	checker.AddCheck(health.NewNetworkHealthCheck(func() string {
		if addr := server.Addr(); addr != nil && server.Running() {
			return addr.String()
		}
		return ""
	}))
	checker.AddCheck(health.NewCapacityHealthCheck(server.MaxSessions(), server.SessionCount))
	checker.AddCheck(health.NewMemoryHealthCheck(int64(envCfg.MaxMemoryMB), rm.GetMemoryUsage))
	checker.AddCheck(resource.NewResourceHealthCheck(rm))

	httpServers := []*http.Server{{
		Addr:         flags.healthAddr,
		Handler:      checker.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}}
	if cfg.Network.TelemetryAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /telemetry", hub)
		httpServers = append(httpServers, &http.Server{
			Addr:        cfg.Network.TelemetryAddress,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Starting environment server",
			"address", cfg.Network.ServerAddress,
			"task", cfg.Task,
			"max_sessions", cfg.Network.MaxSessions,
		)
		if err := server.ListenAndServe(gctx, cfg.Network.ServerAddress); err != nil {
			return err
		}
		// A server stopped by Shutdown still ends the other services
		return context.Canceled
	})
	for _, srv := range httpServers {
		g.Go(func() error {
			logger.Info(gctx, "Starting HTTP server", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envCfg.ShutdownTimeout)
		defer cancel()

		errs := []error{server.Shutdown(shutdownCtx)}
		for _, srv := range httpServers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
