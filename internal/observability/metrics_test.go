package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	// Reset default registry for test isolation
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := NewMetrics("webhooks")

	if m.TriggersTotal == nil {
		t.Error("TriggersTotal counter should not be nil")
	}
	if m.EventsFannedOut == nil {
		t.Error("EventsFannedOut counter should not be nil")
	}
	if m.DeliveriesSucceeded == nil {
		t.Error("DeliveriesSucceeded counter should not be nil")
	}
	if m.DeliveriesFailed == nil {
		t.Error("DeliveriesFailed counter should not be nil")
	}
	if m.DeliveryDuration == nil {
		t.Error("DeliveryDuration histogram should not be nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal counter vec should not be nil")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration histogram vec should not be nil")
	}
}

func TestMetrics_Increment(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := NewMetrics("test")

	m.TriggersTotal.Inc()
	m.EventsFannedOut.Add(3)
	m.DeliveriesSucceeded.Inc()
	m.DeliveriesFailed.Inc()
	m.DeliveriesRetried.Inc()
	m.DeliveriesThrottled.Inc()
	m.DeliveryAttempts.Inc()
	m.DeliveryDuration.Observe(0.5)
	m.CacheHits.Inc()
	m.CacheMisses.Inc()
	m.EventsPurged.Add(10)
	m.HTTPRequestsTotal.WithLabelValues("GET", "/subscriptions", "200").Inc()
	m.HTTPRequestDuration.WithLabelValues("GET", "/subscriptions").Observe(0.1)
	m.CircuitBreakerTrips.WithLabelValues("sub-1").Inc()
	m.RateLimiterRejects.WithLabelValues("sub-1").Inc()

	// If we got here without panic, metrics are working
}
