// emit publishes synthetic inventory domain events to the trigger topic,
// for exercising the pipeline during development.
//
// Usage:
//
//	emit -type low-stock-alert -payload '{"itemId":"drill-7"}' -location loc-1 -stock 2
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/ingest"
)

func main() {
	var (
		brokers   = flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
		topic     = flag.String("topic", "inventory.events", "trigger topic")
		eventType = flag.String("type", string(domain.EventTypeItemCreated), "event type")
		payload   = flag.String("payload", `{"test":true}`, "event payload JSON")
		location  = flag.String("location", "", "location id for filter context")
		category  = flag.String("category", "", "category id for filter context")
		stock     = flag.Int("stock", -1, "current stock for filter context (-1 = absent)")
		count     = flag.Int("count", 1, "number of events to publish")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if !domain.EventType(*eventType).Valid() {
		logger.Error("unknown event type", "type", *eventType)
		os.Exit(1)
	}

	var filterCtx domain.FilterContext
	if *location != "" {
		filterCtx.LocationID = location
	}
	if *category != "" {
		filterCtx.CategoryID = category
	}
	if *stock >= 0 {
		filterCtx.CurrentStock = stock
	}

	producerConfig := ingest.DefaultProducerConfig()
	producerConfig.Brokers = strings.Split(*brokers, ",")
	producerConfig.Topic = *topic

	producer := ingest.NewProducer(producerConfig, logger)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trigger := ingest.TriggerMessage{
		EventType: domain.EventType(*eventType),
		Payload:   json.RawMessage(*payload),
		Context:   filterCtx,
	}

	for i := 0; i < *count; i++ {
		if err := producer.Publish(ctx, trigger); err != nil {
			logger.Error("failed to publish", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("published", "count", *count, "type", *eventType, "topic", *topic)
}
