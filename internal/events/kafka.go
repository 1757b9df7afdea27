package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const sinkKafka = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one topic keyed by transaction id, so all
// events of a transaction land on the same partition in order.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaSink builds an asynchronous writer: WriteMessages returns once the
// message is buffered and failures surface in the completion callback.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sink", sinkKafka), zap.String("topic", topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Async:        true,
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	}
	writer.Completion = func(messages []kafka.Message, err error) {
		for _, msg := range messages {
			eventType := headerValue(msg, "event-type")
			if err != nil {
				logger.Error("failed to deliver event",
					zap.String("key", string(msg.Key)),
					zap.String("event", eventType),
					zap.Error(err),
				)
				observability.IncrementEventPublish(sinkKafka, eventType, "failed")
				continue
			}
			observability.IncrementEventPublish(sinkKafka, eventType, "delivered")
		}
	}

	return newKafkaSink(writer, topic, logger)
}

func newKafkaSink(writer messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic, logger: logger}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (s *KafkaSink) PublishCompleted(ctx context.Context, ev models.TransactionCompleted) {
	s.publish(ctx, TypeTransactionCompleted, ev.TransactionID.String(), ev.CompletedAt, ev)
}

func (s *KafkaSink) PublishFailed(ctx context.Context, ev models.TransactionFailed) {
	s.publish(ctx, TypeTransactionFailed, ev.TransactionID.String(), ev.FailedAt, ev)
}

func (s *KafkaSink) publish(ctx context.Context, eventType, key string, occurredAt time.Time, payload any) {
	value, err := buildEnvelope(eventType, occurredAt, payload)
	if err != nil {
		s.logger.Error("failed to encode event", zap.String("event", eventType), zap.Error(err))
		observability.IncrementEventPublish(sinkKafka, eventType, "encode_failed")
		return
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    occurredAt,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}
	if err := s.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
		observability.IncrementEventPublish(sinkKafka, eventType, "failed")
	}
}

// Close flushes buffered messages.
func (s *KafkaSink) Close() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	s.logger.Info("kafka event sink closed")
	return nil
}
