package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Policy defaults applied by NewSubscription when the create spec leaves them unset.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
	DefaultTimeout    = 30 * time.Second

	secretLength = 32
)

// ReservedHeaders are set by the delivery worker and may not be overridden
// by subscriber-declared custom headers.
var ReservedHeaders = []string{
	"Content-Type",
	"X-Webhook-Signature",
	"X-Webhook-ID",
	"X-Event-Type",
}

// RetryPolicy bounds the automatic retry loop for a subscription.
// RetryDelay is a fixed interval reused on every attempt.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// Stats holds a subscription's aggregate delivery counters.
// Counters only ever increase; they are bumped by the delivery worker at
// terminal outcomes, never on intermediate retries.
type Stats struct {
	TotalEvents          int64      `json:"total_events"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDelivery         *time.Time `json:"last_delivery,omitempty"`
	LastFailure          *time.Time `json:"last_failure,omitempty"`
}

// Subscription is a registered interest in one or more event types, with a
// delivery target, signing secret, and retry policy.
//
// Secret is immutable after creation and is excluded from JSON so list and
// get surfaces can never leak it; the registration response returns it
// explicitly, once.
type Subscription struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	TargetURL     string            `json:"target_url"`
	EventTypes    []EventType       `json:"event_types"`
	Filters       Filters           `json:"filters"`
	Secret        string            `json:"-"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	RetryPolicy   RetryPolicy       `json:"retry_policy"`
	Timeout       time.Duration     `json:"timeout"`
	Active        bool              `json:"active"`
	Stats         Stats             `json:"stats"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// CreateSpec is the caller-supplied portion of a new subscription.
type CreateSpec struct {
	TargetURL     string            `json:"target_url"`
	EventTypes    []EventType       `json:"event_types"`
	Filters       Filters           `json:"filters"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	MaxRetries    *int              `json:"max_retries,omitempty"`
	RetryDelay    *time.Duration    `json:"retry_delay,omitempty"`
	Timeout       *time.Duration    `json:"timeout,omitempty"`
}

// UpdateSpec carries a partial mutation; nil fields are left unchanged.
// The secret cannot be changed and therefore has no field here.
type UpdateSpec struct {
	TargetURL     *string            `json:"target_url,omitempty"`
	EventTypes    []EventType        `json:"event_types,omitempty"`
	Filters       *Filters           `json:"filters,omitempty"`
	CustomHeaders *map[string]string `json:"custom_headers,omitempty"`
	MaxRetries    *int               `json:"max_retries,omitempty"`
	RetryDelay    *time.Duration     `json:"retry_delay,omitempty"`
	Timeout       *time.Duration     `json:"timeout,omitempty"`
	Active        *bool              `json:"active,omitempty"`
}

// NewSubscription validates a creation spec, applies policy defaults, and
// generates the id and signing secret. The secret is random on every call;
// identical input never yields identical secrets.
func NewSubscription(ownerID string, spec CreateSpec, now time.Time) (*Subscription, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if err := validateTargetURL(spec.TargetURL); err != nil {
		return nil, err
	}
	if err := validateEventTypes(spec.EventTypes); err != nil {
		return nil, err
	}
	if err := validateCustomHeaders(spec.CustomHeaders); err != nil {
		return nil, err
	}

	policy := RetryPolicy{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
	if spec.MaxRetries != nil {
		if *spec.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must not be negative", ErrValidation)
		}
		policy.MaxRetries = *spec.MaxRetries
	}
	if spec.RetryDelay != nil {
		if *spec.RetryDelay <= 0 {
			return nil, fmt.Errorf("%w: retry_delay must be positive", ErrValidation)
		}
		policy.RetryDelay = *spec.RetryDelay
	}

	timeout := DefaultTimeout
	if spec.Timeout != nil {
		if *spec.Timeout <= 0 {
			return nil, fmt.Errorf("%w: timeout must be positive", ErrValidation)
		}
		timeout = *spec.Timeout
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	return &Subscription{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		TargetURL:     spec.TargetURL,
		EventTypes:    spec.EventTypes,
		Filters:       spec.Filters,
		Secret:        secret,
		CustomHeaders: spec.CustomHeaders,
		RetryPolicy:   policy,
		Timeout:       timeout,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Apply merges a partial update into the subscription, validating the
// result. Stats and Secret are never touched.
func (s *Subscription) Apply(spec UpdateSpec, now time.Time) error {
	if spec.TargetURL != nil {
		if err := validateTargetURL(*spec.TargetURL); err != nil {
			return err
		}
		s.TargetURL = *spec.TargetURL
	}
	if spec.EventTypes != nil {
		if err := validateEventTypes(spec.EventTypes); err != nil {
			return err
		}
		s.EventTypes = spec.EventTypes
	}
	if spec.Filters != nil {
		s.Filters = *spec.Filters
	}
	if spec.CustomHeaders != nil {
		if err := validateCustomHeaders(*spec.CustomHeaders); err != nil {
			return err
		}
		s.CustomHeaders = *spec.CustomHeaders
	}
	if spec.MaxRetries != nil {
		if *spec.MaxRetries < 0 {
			return fmt.Errorf("%w: max_retries must not be negative", ErrValidation)
		}
		s.RetryPolicy.MaxRetries = *spec.MaxRetries
	}
	if spec.RetryDelay != nil {
		if *spec.RetryDelay <= 0 {
			return fmt.Errorf("%w: retry_delay must be positive", ErrValidation)
		}
		s.RetryPolicy.RetryDelay = *spec.RetryDelay
	}
	if spec.Timeout != nil {
		if *spec.Timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrValidation)
		}
		s.Timeout = *spec.Timeout
	}
	if spec.Active != nil {
		s.Active = *spec.Active
	}
	s.UpdatedAt = now
	return nil
}

// SubscribesTo reports whether the subscription registered for eventType.
func (s *Subscription) SubscribesTo(eventType EventType) bool {
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: target_url is required", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: target_url is not a valid URL", ErrValidation)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: target_url must be an absolute URL", ErrValidation)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target_url scheme must be http or https", ErrValidation)
	}
	return nil
}

func validateEventTypes(types []EventType) error {
	if len(types) == 0 {
		return fmt.Errorf("%w: event_types must not be empty", ErrValidation)
	}
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrValidation, t)
		}
	}
	return nil
}

func validateCustomHeaders(headers map[string]string) error {
	for name := range headers {
		for _, reserved := range ReservedHeaders {
			if http.CanonicalHeaderKey(name) == reserved {
				return fmt.Errorf("%w: header %q is reserved", ErrValidation, reserved)
			}
		}
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
