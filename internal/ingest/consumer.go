// Package ingest connects the inventory domain to the dispatcher: the
// consumer turns Kafka messages published by the CRUD layer into triggers.
// Offsets are committed only after a successful trigger, giving
// at-least-once hand-off into the event log.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sitestock/webhooks/internal/domain"
)

// Triggerer fans a domain event out to matching subscriptions.
type Triggerer interface {
	TriggerEvent(ctx context.Context, eventType domain.EventType, payload json.RawMessage, filterCtx domain.FilterContext) error
}

// ConsumerConfig defines Kafka consumer parameters.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:   "inventory.events",
		GroupID: "webhooks-dispatcher",
		MaxWait: 500 * time.Millisecond,
	}
}

// TriggerMessage is the wire form of a domain event on the topic.
type TriggerMessage struct {
	EventType domain.EventType     `json:"event_type"`
	Payload   json.RawMessage      `json:"payload"`
	Context   domain.FilterContext `json:"context"`
}

// Consumer reads domain events and fans them out via the dispatcher.
type Consumer struct {
	config     ConsumerConfig
	reader     *kafka.Reader
	dispatcher Triggerer
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewConsumer(config ConsumerConfig, dispatcher Triggerer, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        config.MaxWait,
		CommitInterval: 0, // manual commits only
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		config:     config,
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start begins consuming until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("ingest consumer started",
		"topic", c.config.Topic,
		"group", c.config.GroupID,
	)
}

// Stop closes the reader and waits for the consume loop to finish.
func (c *Consumer) Stop() error {
	err := c.reader.Close()
	c.wg.Wait()
	return err
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, kafka.ErrGroupClosed) {
				return
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// Leave the offset uncommitted; the message is redelivered.
			c.logger.Error("failed to process message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var trigger TriggerMessage
	if err := json.Unmarshal(msg.Value, &trigger); err != nil {
		// A malformed message never becomes valid; log and move on.
		c.logger.Warn("dropping malformed trigger message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}

	err := c.dispatcher.TriggerEvent(ctx, trigger.EventType, trigger.Payload, trigger.Context)
	if errors.Is(err, domain.ErrValidation) {
		c.logger.Warn("dropping trigger with unknown event type",
			"event_type", trigger.EventType,
			"offset", msg.Offset,
		)
		return nil
	}
	return err
}
