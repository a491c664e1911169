package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes domain trigger messages. The inventory CRUD service
// uses it on its side of the topic; the emit tool uses it for testing.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// ProducerConfig configures the Kafka producer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "inventory.events",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewProducer(config ProducerConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.RoundRobin{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}

	return &Producer{
		writer: writer,
		logger: logger,
	}
}

// Publish sends a trigger message, keyed by event type so ordering within
// a type is preserved per partition.
func (p *Producer) Publish(ctx context.Context, trigger TriggerMessage) error {
	value, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(trigger.EventType),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
