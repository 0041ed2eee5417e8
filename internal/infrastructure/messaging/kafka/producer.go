// Package kafka carries run requests and run-completed events over Kafka.
package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

var (
	ErrProducerClosed = errors.New(errors.ErrCodeMessagingFailed, "producer closed")
)

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Brokers          []string
	Acks             string
	MaxRetries       int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxMessageBytes  int
	CompressionCodec string
	WriteTimeout     time.Duration
}

// ProducerConfigFrom derives producer settings from the application config.
func ProducerConfigFrom(cfg config.KafkaConfig) ProducerConfig {
	return ProducerConfig{
		Brokers:    cfg.Brokers,
		Acks:       "all",
		MaxRetries: cfg.MaxRetries,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is the minimal publishing contract used by the consumer's dead
// letter path and the run event publisher.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Producer publishes messages with per-message topics.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	metrics *prometheus.EngineMetrics
	closed  atomic.Bool
}

// NewProducer creates a new Producer.
func NewProducer(cfg ProducerConfig, logger logging.Logger, metrics *prometheus.EngineMetrics) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	cfg = applyProducerDefaults(cfg)

	var requiredAcks kafka.RequiredAcks
	switch cfg.Acks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	var compression kafka.Compression
	switch cfg.CompressionCodec {
	case "gzip":
		compression = kafka.Gzip
	case "snappy":
		compression = kafka.Snappy
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: requiredAcks,
		Compression:  compression,
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second},
	}
	return newProducer(writer, cfg, logger, metrics), nil
}

func newProducer(w WriterInterface, cfg ProducerConfig, logger logging.Logger, metrics *prometheus.EngineMetrics) *Producer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNoopEngineMetrics()
	}
	return &Producer{writer: w, config: applyProducerDefaults(cfg), logger: logger, metrics: metrics}
}

func applyProducerDefaults(cfg ProducerConfig) ProducerConfig {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1024 * 1024
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

// Publish publishes a single message.
func (p *Producer) Publish(ctx context.Context, msg *common.ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if msg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "Topic required")
	}
	if len(msg.Value) == 0 {
		return errors.New(errors.ErrCodeValidation, "Value required")
	}
	if len(msg.Value) > p.config.MaxMessageBytes {
		return errors.New(errors.ErrCodeValidation, "Message too large").
			WithDetailf("bytes=%d limit=%d", len(msg.Value), p.config.MaxMessageBytes)
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		p.metrics.MessageProcessed.WithLabelValues(msg.Topic, "publish_failed").Inc()
		return errors.Wrap(err, errors.ErrCodeMessagingFailed, "publish failed").WithDetail(msg.Topic)
	}
	p.metrics.MessageProcessed.WithLabelValues(msg.Topic, "published").Inc()
	p.logger.Debug("Message published",
		logging.String("topic", msg.Topic),
		logging.Int64("latency_ms", time.Since(start).Milliseconds()))
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("Kafka producer closed")
	return err
}

func toKafkaMessage(msg *common.ProducerMessage) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    ts,
	}
}

func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "Brokers required")
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunEventPublisher
// ---------------------------------------------------------------------------

// RunEventPublisher publishes run-completed envelopes keyed by run id.
type RunEventPublisher struct {
	publisher Publisher
	topic     string
}

// NewRunEventPublisher creates a publisher writing to topic.
func NewRunEventPublisher(publisher Publisher, topic string) *RunEventPublisher {
	return &RunEventPublisher{publisher: publisher, topic: topic}
}

// PublishRunCompleted implements molecule.RunEventPublisher.
func (r *RunEventPublisher) PublishRunCompleted(ctx context.Context, summary mtypes.RunSummary, at time.Time) error {
	env, err := NewEventEnvelope(EventRunCompleted, RunCompletedPayload{Summary: summary, CompletedAt: at.UTC()})
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(r.topic, summary.RunID.String())
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, msg)
}

var _ molecule.RunEventPublisher = (*RunEventPublisher)(nil)
