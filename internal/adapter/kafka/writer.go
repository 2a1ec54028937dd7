package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier publishes unit results to a Kafka topic.
// It implements pipeline.Notifier.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the results topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// Notify publishes one unit result. Results of the same unit share a key, so
// they land on one partition in stage order.
func (n *Notifier) Notify(ctx context.Context, result domain.UnitResult) error {
	msg, err := serializeToMessage(result)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s %s: %w", result.Key(), result.Stage, err)
	}
	n.logger.Debug("unit result published", "unit", result.Key(), "stage", result.Stage, "status", result.Status)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a UnitResult into a Kafka message.
func serializeToMessage(result domain.UnitResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize unit result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "stage", Value: []byte(result.Stage)},
			{Key: "status", Value: []byte(result.Status)},
			{Key: "processed_at", Value: []byte(result.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
