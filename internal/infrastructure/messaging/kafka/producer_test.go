package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/internal/config"
	apperrors "github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// mockKafkaWriter
type mockKafkaWriter struct {
	mu        sync.Mutex
	written   []kafka.Message
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closed    int
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed++
	return nil
}

func newTestProducer(w WriterInterface) *Producer {
	return newProducer(w, ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 64}, nil, nil)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}))
}

func TestProducerConfigFrom(t *testing.T) {
	cfg := ProducerConfigFrom(config.KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, MaxRetries: 5})
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "all", cfg.Acks)
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &common.ProducerMessage{
		Topic:   "t",
		Key:     []byte("k"),
		Value:   []byte("v"),
		Headers: map[string]string{"h": "1"},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, "t", w.written[0].Topic)
	assert.Equal(t, []byte("k"), w.written[0].Key)
	assert.Equal(t, []kafka.Header{{Key: "h", Value: []byte("1")}}, w.written[0].Headers)
	assert.False(t, w.written[0].Time.IsZero())
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, apperrors.IsCode(p.Publish(ctx, &common.ProducerMessage{Value: []byte("v")}), apperrors.ErrCodeValidation))
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &common.ProducerMessage{Topic: "t"}), apperrors.ErrCodeValidation))
	big := make([]byte, 65)
	assert.True(t, apperrors.IsCode(p.Publish(ctx, &common.ProducerMessage{Topic: "t", Value: big}), apperrors.ErrCodeValidation))
}

func TestPublish_WriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newTestProducer(&mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error { return boom }})

	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMessagingFailed))
	assert.ErrorIs(t, err, boom)
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("v")}), ErrProducerClosed)
}

func TestRunEventPublisher(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newProducer(w, ProducerConfig{Brokers: []string{"b"}}, nil, nil)
	pub := NewRunEventPublisher(p, "subsim.run.completed")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := mtypes.RunSummary{RunID: "run-9", Status: mtypes.RunSucceeded, Processed: 4, Matched: 2}
	require.NoError(t, pub.PublishRunCompleted(context.Background(), summary, at))

	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "subsim.run.completed", msg.Topic)
	assert.Equal(t, []byte("run-9"), msg.Key)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, EventRunCompleted, env.EventType)
	assert.Equal(t, SourceService, env.Source)

	var payload RunCompletedPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, summary.RunID, payload.Summary.RunID)
	assert.Equal(t, 2, payload.Summary.Matched)
	assert.True(t, at.Equal(payload.CompletedAt))
}
