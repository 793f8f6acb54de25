package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/dispatch-alert-relay/internal/config"
	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
)

// Writer publishes dispatched incidents to the incident feed topic.
// It implements pipeline.IncidentPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured incident topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaIncidentTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishIncident writes one incident event. Events of the same incident
// share a key and therefore a partition.
func (w *Writer) PublishIncident(ctx context.Context, event domain.IncidentEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish incident %s: %w", domain.ErrTransport, event.ID, err)
	}
	w.logger.Debug("incident published", "id", event.ID, "incident_number", event.IncidentNumber, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an IncidentEvent into a Kafka message.
func serializeToMessage(event domain.IncidentEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident event: %w", err)
	}
	key := event.IncidentNumber
	if key == "" {
		key = event.ID
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "keyword", Value: []byte(event.Keyword)},
			{Key: "stations", Value: []byte(strings.Join(event.Stations, ","))},
			{Key: "dispatched_at", Value: []byte(event.DispatchedAt.Format(time.RFC3339))},
		},
		Time: event.DispatchedAt,
	}, nil
}
