package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitestock/webhooks/internal/cache"
	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/dispatch"
	"github.com/sitestock/webhooks/internal/domain"
	"github.com/sitestock/webhooks/internal/observability"
	"github.com/sitestock/webhooks/internal/repository"
	"github.com/sitestock/webhooks/internal/worker"
)

// ownerHeader carries the authenticated caller's identity, set by the
// authentication layer in front of this service. Authorization itself is
// enforced there; this surface only exposes ownership on every read.
const ownerHeader = "X-Owner-ID"

const defaultEventPageLimit = 50

// DeliveryPool is the slice of the worker pool the handlers need.
type DeliveryPool interface {
	Enqueue(ctx context.Context, event *domain.DeliveryEvent, sub *domain.Subscription) error
	SendTest(ctx context.Context, sub *domain.Subscription, eventType domain.EventType, payload json.RawMessage) worker.TestResult
	ForgetDestination(subscriptionID string)
}

type Handler struct {
	subRepo    repository.SubscriptionRepository
	eventRepo  repository.EventRepository
	subCache   cache.SubscriptionCache
	pool       DeliveryPool
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
}

func NewHandler(
	subRepo repository.SubscriptionRepository,
	eventRepo repository.EventRepository,
	subCache cache.SubscriptionCache,
	pool DeliveryPool,
	dispatcher *dispatch.Dispatcher,
	clk clock.Clock,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		subRepo:    subRepo,
		eventRepo:  eventRepo,
		subCache:   subCache,
		pool:       pool,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// log returns the request-scoped logger when the logging middleware is
// in the chain, so handler log lines carry the request id.
func (h *Handler) log(r *http.Request) *slog.Logger {
	return observability.LoggerFromContext(r.Context(), h.logger)
}

// createSubscriptionResponse is the only surface that ever carries the
// signing secret.
type createSubscriptionResponse struct {
	*domain.Subscription
	Secret string `json:"secret"`
}

func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		h.respondError(w, http.StatusBadRequest, "owner identity is required")
		return
	}

	var spec domain.CreateSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := domain.NewSubscription(ownerID, spec, h.clock.Now())
	if err != nil {
		h.respondDomainError(w, r, err, "")
		return
	}

	if err := h.subRepo.Create(r.Context(), sub); err != nil {
		h.log(r).Error("failed to create subscription", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}
	h.invalidateCache(r.Context())

	h.respondJSON(w, http.StatusCreated, createSubscriptionResponse{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		h.respondError(w, http.StatusBadRequest, "owner identity is required")
		return
	}

	var active *bool
	if v := r.URL.Query().Get("active"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		active = &parsed
	}

	subs, err := h.subRepo.ListByOwner(r.Context(), ownerID, active)
	if err != nil {
		h.log(r).Error("failed to list subscriptions", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []*domain.Subscription{}
	}

	h.respondJSON(w, http.StatusOK, subs)
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	h.respondJSON(w, http.StatusOK, sub)
}

// updateSubscriptionRequest exists to reject secret rotation explicitly
// rather than silently ignoring the field.
type updateSubscriptionRequest struct {
	domain.UpdateSpec
	Secret *string `json:"secret,omitempty"`
}

func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Secret != nil {
		h.respondError(w, http.StatusBadRequest, "secret is immutable")
		return
	}

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	if err := sub.Apply(req.UpdateSpec, h.clock.Now()); err != nil {
		h.respondDomainError(w, r, err, "")
		return
	}

	if err := h.subRepo.Update(r.Context(), sub); err != nil {
		h.respondDomainError(w, r, err, "failed to update subscription")
		return
	}
	h.invalidateCache(r.Context())

	h.respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.subRepo.Delete(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err, "failed to delete subscription")
		return
	}
	h.invalidateCache(r.Context())
	h.pool.ForgetDestination(id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSubscriptionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.subRepo.GetByID(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	filter := repository.EventFilter{Limit: defaultEventPageLimit}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := domain.DeliveryStatus(v)
		switch status {
		case domain.DeliveryStatusPending, domain.DeliveryStatusSuccess, domain.DeliveryStatusFailed:
			filter.Status = &status
		default:
			h.respondError(w, http.StatusBadRequest, "status must be pending, success, or failed")
			return
		}
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return
		}
		filter.Skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	events, err := h.eventRepo.ListBySubscription(r.Context(), id, filter)
	if err != nil {
		h.log(r).Error("failed to list events", "error", err, "subscription_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*domain.DeliveryEvent{}
	}

	h.respondJSON(w, http.StatusOK, events)
}

// RetryEvent re-arms a delivery event from any state and immediately
// hands it back to the delivery pool.
func (h *Handler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.eventRepo.GetByID(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get event")
		return
	}

	sub, err := h.subRepo.GetByID(r.Context(), event.SubscriptionID)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	event.ResetForRetry()
	if err := h.eventRepo.Update(r.Context(), event); err != nil {
		h.respondDomainError(w, r, err, "failed to reset event")
		return
	}

	if err := h.pool.Enqueue(r.Context(), event, sub); err != nil {
		h.log(r).Warn("failed to enqueue manual retry, leaving for recovery",
			"error", err,
			"event_id", event.ID,
		)
	}

	h.respondJSON(w, http.StatusAccepted, event)
}

type statsResponse struct {
	SubscriptionID       string     `json:"subscription_id"`
	TotalEvents          int64      `json:"total_events"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDelivery         *time.Time `json:"last_delivery,omitempty"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
	SuccessCount         int64      `json:"success_count"`
	FailedCount          int64      `json:"failed_count"`
	PendingCount         int64      `json:"pending_count"`
	SuccessRate          float64    `json:"success_rate"`
}

func (h *Handler) GetSubscriptionStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	counts, err := h.eventRepo.CountBySubscription(r.Context(), id)
	if err != nil {
		h.log(r).Error("failed to count events", "error", err, "subscription_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	resp := statsResponse{
		SubscriptionID:       sub.ID,
		TotalEvents:          sub.Stats.TotalEvents,
		SuccessfulDeliveries: sub.Stats.SuccessfulDeliveries,
		FailedDeliveries:     sub.Stats.FailedDeliveries,
		LastDelivery:         sub.Stats.LastDelivery,
		LastFailure:          sub.Stats.LastFailure,
		SuccessCount:         counts.Success,
		FailedCount:          counts.Failed,
		PendingCount:         counts.Pending,
	}
	if sub.Stats.TotalEvents > 0 {
		resp.SuccessRate = float64(sub.Stats.SuccessfulDeliveries) / float64(sub.Stats.TotalEvents) * 100
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type testDeliveryRequest struct {
	EventType domain.EventType `json:"event_type,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// TestSubscription sends a synthetic one-shot delivery and returns the
// outcome synchronously, without touching the event log.
func (h *Handler) TestSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.subRepo.GetByID(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, r, err, "failed to get subscription")
		return
	}

	var req testDeliveryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	eventType := req.EventType
	if eventType == "" {
		if len(sub.EventTypes) > 0 {
			eventType = sub.EventTypes[0]
		}
	} else if !eventType.Valid() {
		h.respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	result := h.pool.SendTest(r.Context(), sub, eventType, req.Payload)
	h.respondJSON(w, http.StatusOK, result)
}

type triggerRequest struct {
	EventType domain.EventType     `json:"event_type"`
	Payload   json.RawMessage      `json:"payload"`
	Context   domain.FilterContext `json:"context"`
}

// TriggerEvent lets the domain CRUD layer announce an event over HTTP.
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.dispatcher.TriggerEvent(r.Context(), req.EventType, req.Payload, req.Context); err != nil {
		h.respondDomainError(w, r, err, "failed to trigger event")
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) invalidateCache(ctx context.Context) {
	if err := h.subCache.Invalidate(ctx, cache.ActiveSlot); err != nil {
		h.logger.Warn("failed to invalidate subscription cache", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		if fallback == "" {
			fallback = "internal error"
		}
		h.log(r).Error(fallback, "error", err)
		h.respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
