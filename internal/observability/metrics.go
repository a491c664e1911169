// Package observability provides Prometheus metrics, health checks, and
// request logging for the webhook pipeline.
//
// Uses github.com/prometheus/client_golang - the official Prometheus
// client - registered via promauto.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus metrics.
//
// Key metrics for monitoring:
//   - triggers_total: inbound domain-event rate
//   - deliveries_succeeded_total / deliveries_failed_total: terminal outcomes
//   - delivery_duration_seconds: destination latency distribution
//   - subscription_cache_misses_total: cache effectiveness
type Metrics struct {
	TriggersTotal       prometheus.Counter
	EventsFannedOut     prometheus.Counter
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveriesRetried   prometheus.Counter
	DeliveriesThrottled prometheus.Counter
	DeliveryAttempts    prometheus.Counter
	DeliveryDuration    prometheus.Histogram
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	EventsPurged        prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CircuitBreakerTrips *prometheus.CounterVec
	RateLimiterRejects  *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics.
// The namespace prefixes all metric names (e.g. "webhooks_triggers_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TriggersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Total number of domain events triggered",
		}),
		EventsFannedOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fanned_out_total",
			Help:      "Total number of delivery events created by fan-out",
		}),
		DeliveriesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_succeeded_total",
			Help:      "Total number of delivery events reaching success",
		}),
		DeliveriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of delivery events failing after all retries",
		}),
		DeliveriesRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_retried_total",
			Help:      "Total number of retries scheduled",
		}),
		DeliveriesThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_throttled_total",
			Help:      "Total number of attempts deferred by rate limiting or an open circuit",
		}),
		DeliveryAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of HTTP delivery attempts made",
		}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of webhook delivery attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cache_hits_total",
			Help:      "Total number of dispatcher lookups served from the cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_cache_misses_total",
			Help:      "Total number of dispatcher lookups that fell through to the store",
		}),
		EventsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_purged_total",
			Help:      "Total number of delivery events removed by retention",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of management API requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of management API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times a destination's circuit tripped open",
		}, []string{"subscription_id"}),
		RateLimiterRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_rejections_total",
			Help:      "Total number of attempts deferred by the rate limiter",
		}, []string{"subscription_id"}),
	}
}
