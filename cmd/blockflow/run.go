package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxorio/blockflow/pkg/config"
	"github.com/fluxorio/blockflow/pkg/core"
	"github.com/fluxorio/blockflow/pkg/gateway"
	blockotel "github.com/fluxorio/blockflow/pkg/observability/otel"
	"github.com/fluxorio/blockflow/pkg/service"
	"github.com/fluxorio/blockflow/pkg/web/health"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(version string) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a block service until interrupted",
		Long: `Run loads a service config (YAML or JSON), configures and starts every
block, and serves the management API until SIGINT or SIGTERM. Scalar
settings can be overridden with BLOCKFLOW_* environment variables, for
example BLOCKFLOW_API_ADDR or BLOCKFLOW_BUS_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadService(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, version)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "service config file (.yaml, .yml or .json)")
	return cmd
}

// run hosts cfg until ctx is done, then stops the API and the service.
func run(ctx context.Context, cfg *config.ServiceConfig, version string) error {
	logger := core.NewLogger(core.LoggerConfig{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})

	tracing := blockotel.DefaultConfig()
	tracing.ServiceName = cfg.Name
	tracing.ServiceVersion = version
	tracing.Exporter = cfg.Tracing.Exporter
	tracing.Endpoint = cfg.Tracing.Endpoint
	tracing.SampleRate = cfg.Tracing.SampleRate
	if tracing.Enabled() {
		if err := blockotel.Initialize(ctx, tracing); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = blockotel.Shutdown(sctx)
		}()
	}

	svc, err := service.New(*cfg, service.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := svc.Configure(ctx); err != nil {
		return errors.Join(err, svc.Stop(context.Background()))
	}
	if err := svc.Start(ctx); err != nil {
		return errors.Join(err, svc.Stop(context.Background()))
	}

	var gw *gateway.Gateway
	if cfg.API.Addr != "" {
		gw = gateway.New(svc, gateway.Config{
			Addr:        cfg.API.Addr,
			JWTSecret:   cfg.API.JWTSecret,
			APIKeys:     cfg.API.APIKeys,
			CORSOrigins: cfg.API.CORSOrigins,
			RateLimit:   cfg.API.RateLimit,
			Logger:      logger,
		})
		gw.Health().Register("persistence", health.PingCheck(svc.Store()))
	}

	g, gctx := errgroup.WithContext(ctx)
	if gw != nil {
		g.Go(gw.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if gw != nil {
			errs = append(errs, gw.Stop(sctx))
		}
		errs = append(errs, svc.Stop(sctx))
		return errors.Join(errs...)
	})
	return g.Wait()
}
