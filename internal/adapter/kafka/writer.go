package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces notification intents to the notification topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured notification topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotificationTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes notifications in a single WriteMessages
// call. Messages are keyed by event so one event's intents stay ordered on a
// single partition.
func (w *Writer) LoadBatch(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(notifications))
	for i := range notifications {
		msg, err := serializeToMessage(notifications[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d notifications: %w", len(msgs), err)
	}
	w.logger.Debug("notifications published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Notification into a Kafka message.
func serializeToMessage(n domain.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	headers := []kafkago.Header{
		{Key: "kind", Value: []byte(n.Kind)},
		{Key: "event_id", Value: []byte(n.EventID)},
		{Key: "created_at", Value: []byte(n.CreatedAt.Format(time.RFC3339))},
	}
	if n.RecipientID != "" {
		headers = append(headers, kafkago.Header{Key: "recipient_id", Value: []byte(n.RecipientID)})
	}
	return kafkago.Message{
		Key:     []byte(n.EventID),
		Value:   data,
		Headers: headers,
	}, nil
}
