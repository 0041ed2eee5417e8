package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	httpapi "github.com/turtacn/subsim/internal/interfaces/http"
	"github.com/turtacn/subsim/internal/interfaces/http/handlers"
	"github.com/turtacn/subsim/internal/interfaces/http/middleware"
)

func newServeCmd() *cobra.Command {
	var (
		library string
		port    int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cc.Config.Server.Port = port
			}
			return runServe(cmd.Context(), cc, library)
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "reference table (default: engine.library_path)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port)")
	return cmd
}

func runServe(ctx context.Context, cc *CLIContext, library string) error {
	app, err := NewApp(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	if _, err := app.LoadLibrary(ctx, library); err != nil {
		return err
	}

	var neighbors handlers.NeighborFinder
	if app.Graph != nil {
		neighbors = app.Graph
	}
	srvCfg := cc.Config.Server
	router := httpapi.NewRouter(httpapi.RouterConfig{
		RunHandler:    handlers.NewRunHandler(app.Service, neighbors, srvCfg.MaxRecords, cc.Logger),
		HealthHandler: handlers.NewHealthHandler(Version, app.Checkers...),
		Logging:       middleware.DefaultLoggingConfig(),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: srvCfg.RunsPerSecond,
			BurstSize:         srvCfg.RunBurst,
		},
		Logger:           cc.Logger,
		Metrics:          app.Metrics,
		MetricsCollector: app.Collector,
		Mode:             srvCfg.Mode,
	})
	server := httpapi.NewServer(srvCfg, router, cc.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.WithoutCancel(gctx))
	})
	cc.Logger.Info("subsim api started",
		logging.String("version", Version),
		logging.Int("port", srvCfg.Port),
		logging.String("library", app.Service.Library().Version()))
	return g.Wait()
}
