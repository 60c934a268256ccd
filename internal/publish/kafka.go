// Package publish feeds committed envelopes to Kafka for downstream
// projections. Publishing runs after the warm commit and is best-effort by
// contract: the tiered store logs failures and moves on.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/strata-lab/strata/internal/event"
)

// KafkaPublisher writes envelopes to one topic, keyed by aggregate id so
// each aggregate's events land on one partition in version order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	slog.Info("[Kafka] Feed publisher initialized", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: writer}
}

// Publish implements store.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, envelopes []event.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(envelopes))
	for i, env := range envelopes {
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %s v%d: %w", env.AggregateID, env.Version, err)
		}
		messages[i] = kafka.Message{
			Key:   []byte(env.AggregateID),
			Value: value,
			Time:  env.OccurredAt,
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to publish %d envelopes: %w", len(messages), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
