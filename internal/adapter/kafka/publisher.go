// Package kafka publishes engine changes to a sink topic for downstream
// consumers (alert fan-out, archival).
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/seismic-feed-hub/internal/engine"
)

// Publisher produces change records to a Kafka topic.
// It implements engine.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the sink topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes one change and writes it to the sink topic.
func (p *Publisher) Publish(ctx context.Context, c engine.Change) error {
	msg, err := serializeToMessage(c)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a change into a Kafka message. The key is the
// trigger so consumers that only care about one transition type can filter
// without decoding the body.
func serializeToMessage(c engine.Change) (kafkago.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.Trigger),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "trigger", Value: []byte(c.Trigger)},
			{Key: "source", Value: []byte(c.Source)},
			{Key: "at", Value: []byte(c.At.Format(time.RFC3339))},
		},
	}, nil
}
