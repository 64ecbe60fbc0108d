package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"presence-service/pkg/models"

	kafkago "github.com/segmentio/kafka-go"
)

// EventWriter publishes presence transitions to Kafka for consumers outside
// the realtime core (dashboards, rosters). Keyed by user ID so one user's
// transitions stay in order within a partition.
type EventWriter struct {
	writer *kafkago.Writer
}

func NewEventWriter(brokers []string, topic string) *EventWriter {
	return &EventWriter{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			Async:        true,
		},
	}
}

func (w *EventWriter) Publish(ctx context.Context, update models.StatusUpdate) error {
	value, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	err = w.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(update.UserID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write presence event: %w", err)
	}
	return nil
}

func (w *EventWriter) Close() error {
	return w.writer.Close()
}
