package events

import (
	"context"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by customer id, so one customer's
// events stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 5 * time.Second}
}

// Observe writes the event. Failures are logged.
func (k *KafkaSink) Observe(ctx context.Context, e domain.Event) {
	data, err := encode(e)
	if err != nil {
		logger.Error("[Events] marshal event", "event", e.EventName(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(e.Subject()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.EventName())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("[Events] Kafka publish failed", "event", e.EventName(), "customer_id", e.Subject(), "error", err)
	}
}

// Close closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
