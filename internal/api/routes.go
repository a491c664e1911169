// Package api exposes the management surface of the webhook pipeline.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitestock/webhooks/internal/observability"
)

type RouterConfig struct {
	Handler       *Handler
	HealthHandler *observability.HealthHandler
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}

	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
		r.Get("/ready", cfg.HealthHandler.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/trigger", cfg.Handler.TriggerEvent)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", cfg.Handler.CreateSubscription)
		r.Get("/", cfg.Handler.ListSubscriptions)
		r.Get("/{id}", cfg.Handler.GetSubscription)
		r.Put("/{id}", cfg.Handler.UpdateSubscription)
		r.Delete("/{id}", cfg.Handler.DeleteSubscription)
		r.Get("/{id}/events", cfg.Handler.ListSubscriptionEvents)
		r.Get("/{id}/stats", cfg.Handler.GetSubscriptionStats)
		r.Post("/{id}/test", cfg.Handler.TestSubscription)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/{id}/retry", cfg.Handler.RetryEvent)
	})

	return r
}
