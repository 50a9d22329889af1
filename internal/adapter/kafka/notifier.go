package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nascimentoandre/download-surftomo-data/internal/config"
	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// Notifier publishes an "event ready" message for every processed event.
// It implements pipeline.EventNotifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyEventReady publishes the summary keyed by event id, so repeated runs
// over the same folder land on the same partition.
func (n *Notifier) NotifyEventReady(ctx context.Context, summary domain.EventSummary) error {
	msg, err := serializeToMessage(summary)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", summary.EventID, err)
	}
	n.logger.Debug("event ready published", "event", summary.EventID, "topic", n.writer.Topic)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals an EventSummary into a Kafka message.
func serializeToMessage(summary domain.EventSummary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(summary.EventID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(summary.EventID)},
			{Key: "processed", Value: []byte(strconv.Itoa(summary.Processed))},
			{Key: "processed_at", Value: []byte(summary.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
