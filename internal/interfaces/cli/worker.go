package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/subsim/internal/infrastructure/database/redis"
	"github.com/turtacn/subsim/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/interfaces/worker"
	"github.com/turtacn/subsim/pkg/errors"
)

func newWorkerCmd() *cobra.Command {
	var library string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume run requests from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cc, library)
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "reference table (default: engine.library_path)")
	return cmd
}

func runWorker(ctx context.Context, cc *CLIContext, library string) error {
	cfg := cc.Config
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeValidation, "worker requires kafka").WithDetail("set kafka.enabled")
	}

	app, err := NewApp(ctx, cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	if _, err := app.LoadLibrary(ctx, library); err != nil {
		return err
	}

	if topics, err := kafka.NewTopicManager(cfg.Kafka.Brokers, cc.Logger); err != nil {
		cc.Logger.Warn("topic manager unavailable", logging.Err(err))
	} else {
		if err := topics.EnsureTopics(ctx, kafka.DefaultTopics(cfg.Kafka)); err != nil {
			cc.Logger.Warn("failed to ensure topics", logging.Err(err))
		}
		_ = topics.Close()
	}

	opts := []worker.HandlerOption{worker.WithTimeout(cc.Timeout)}
	if app.Redis != nil {
		claimer := redis.NewClaimer(app.Redis, cfg.Redis.KeyPrefix, cc.Logger, redis.WithCompletedTTL(cfg.Redis.CompletedTTL))
		opts = append(opts, worker.WithClaimer(worker.RedisClaims(claimer)))
	}
	handler := worker.NewRequestHandler(app.Runner, cc.Logger, opts...)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka), app.Producer, cc.Logger, app.Metrics)
	if err != nil {
		return err
	}
	defer consumer.Close()
	consumer.Subscribe(cfg.Kafka.RequestTopic, handler.Handle)

	app.ServeMetrics(ctx)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	cc.Logger.Info("subsim worker started",
		logging.String("topic", cfg.Kafka.RequestTopic),
		logging.String("group", cfg.Kafka.GroupID),
		logging.String("library", app.Service.Library().Version()))

	<-ctx.Done()
	cc.Logger.Info("subsim worker stopping")
	return nil
}
