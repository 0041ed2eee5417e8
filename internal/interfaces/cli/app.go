package cli

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/turtacn/subsim/internal/application/substructure"
	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/subsim/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/subsim/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/subsim/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/subsim/internal/infrastructure/database/redis"
	"github.com/turtacn/subsim/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/internal/infrastructure/storage/minio"
	"github.com/turtacn/subsim/internal/infrastructure/storage/tabular"
	"github.com/turtacn/subsim/internal/interfaces/http/handlers"
	"github.com/turtacn/subsim/pkg/errors"
)

// App holds the process-wide components built from Config.  Backends whose
// section is disabled stay nil.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.EngineMetrics

	Redis    *redis.Client
	Cache    *redis.ResultCache
	DB       *postgres.Connection
	Neo4j    *neo4j.Driver
	Graph    *neo4jrepo.SimilarityGraphRepo
	Producer *kafka.Producer
	Objects  *minio.MinIOClient

	Service  substructure.Service
	Runner   *substructure.TableRunner
	Checkers []handlers.HealthChecker

	closers []func(context.Context) error
}

// NewApp connects the enabled backends and builds the run service.  On error
// everything opened so far is closed again.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *App, err error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	app := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	if err = app.initMetrics(); err != nil {
		return nil, err
	}

	deps := substructure.Dependencies{Logger: log, Metrics: app.Metrics}

	if cfg.Redis.Enabled {
		if app.Redis, err = redis.NewClient(ctx, cfg.Redis, log); err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return app.Redis.Close() })
		app.Cache = redis.NewResultCache(app.Redis, log,
			redis.WithPrefix(cfg.Redis.KeyPrefix),
			redis.WithTTL(cfg.Redis.ResultTTL))
		deps.Cache = app.Cache
		app.Checkers = append(app.Checkers, handlers.CheckerFunc("redis", app.Redis.Ping))
	}

	if cfg.Database.Enabled {
		if app.DB, err = postgres.NewConnection(ctx, cfg.Database, log); err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return app.DB.Close() })
		if cfg.Database.AutoMigrate {
			if err = app.DB.Migrate(); err != nil {
				return nil, err
			}
		}
		deps.Runs = pgrepo.NewPostgresRunRepo(app.DB, log, app.Metrics)
		app.Checkers = append(app.Checkers, handlers.CheckerFunc("postgres", app.DB.HealthCheck))
	}

	if cfg.Neo4j.Enabled {
		if app.Neo4j, err = neo4j.NewDriver(ctx, cfg.Neo4j, log); err != nil {
			return nil, err
		}
		app.onClose(app.Neo4j.Close)
		app.Graph = neo4jrepo.NewSimilarityGraphRepo(app.Neo4j, log, app.Metrics)
		deps.Graph = app.Graph
		app.Checkers = append(app.Checkers, handlers.CheckerFunc("neo4j", app.Neo4j.HealthCheck))
	}

	if cfg.Kafka.Enabled {
		if app.Producer, err = kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), log, app.Metrics); err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return app.Producer.Close() })
		deps.Events = kafka.NewRunEventPublisher(app.Producer, cfg.Kafka.CompletedTopic)
	}

	var objects tabular.ObjectStore
	if cfg.MinIO.Enabled {
		if app.Objects, err = minio.NewMinIOClient(ctx, cfg.MinIO, log); err != nil {
			return nil, err
		}
		app.onClose(func(context.Context) error { return app.Objects.Close() })
		objects = minio.NewTableStore(app.Objects, log, app.Metrics)
		app.Checkers = append(app.Checkers, handlers.CheckerFunc("minio", app.Objects.HealthCheck))
	}

	if app.Service, err = substructure.NewService(substructure.OptionsFromConfig(cfg.Engine), deps); err != nil {
		return nil, err
	}
	app.Runner = substructure.NewTableRunner(app.Service, tabular.NewStore(objects), log)
	app.Checkers = append(app.Checkers, handlers.CheckerFunc("library", app.libraryLoaded))
	return app, nil
}

func (a *App) initMetrics() error {
	if !a.Config.Monitoring.MetricsEnabled {
		a.Metrics = prometheus.NewNoopEngineMetrics()
		return nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            a.Config.Monitoring.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.Collector = collector
	a.Metrics = prometheus.NewEngineMetrics(collector)
	return nil
}

func (a *App) libraryLoaded(context.Context) error {
	if a.Service.Library() == nil {
		return errors.New(errors.ErrCodeInvalidLibrary, "no reference library loaded")
	}
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// LoadLibrary installs the library at location, or at engine.library_path
// when location is empty.
func (a *App) LoadLibrary(ctx context.Context, location string) (*substructure.LibraryReport, error) {
	if location == "" {
		location = a.Config.Engine.LibraryPath
	}
	if location == "" {
		return nil, errors.New(errors.ErrCodeInvalidLibrary, "no library given").
			WithDetail("set --library or engine.library_path")
	}
	return a.Runner.LoadLibrary(ctx, location)
}

// ServeMetrics exposes /metrics on monitoring.metrics_port until ctx ends.
// It is a no-op when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.Collector == nil || a.Config.Monitoring.MetricsPort <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Collector.Handler())
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.Config.Monitoring.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.Logger.Info("metrics listener started", logging.Int("port", a.Config.Monitoring.MetricsPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("metrics listener failed", logging.Err(err))
		}
	}()
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("failed to close component", logging.Err(err))
		}
	}
	a.closers = nil
}
