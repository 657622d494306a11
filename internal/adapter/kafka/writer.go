package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Writer publishes terminal unit results to a Kafka topic.
// It implements pipeline.Notifier.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured results topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Notify publishes one unit result. Messages are keyed by unit so results
// for the same unit land on the same partition in run order.
func (w *Writer) Notify(ctx context.Context, result domain.UnitResult) error {
	msg, err := serializeToMessage(result)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish unit result %s: %w", result.Unit, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a UnitResult into a Kafka message.
func serializeToMessage(result domain.UnitResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize unit result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.Unit.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(result.RunID)},
			{Key: "state", Value: []byte(result.State)},
			{Key: "finished_at", Value: []byte(result.Finished.Format(time.RFC3339))},
		},
	}, nil
}
