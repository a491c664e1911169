package domain

import (
	"errors"
	"testing"
	"time"
)

func intPtr(n int) *int             { return &n }
func strPtr(s string) *string       { return &s }
func durPtr(d time.Duration) *time.Duration { return &d }
func boolPtr(b bool) *bool          { return &b }

func validSpec() CreateSpec {
	return CreateSpec{
		TargetURL:  "https://example.com/hooks",
		EventTypes: []EventType{EventTypeLowStockAlert},
	}
}

func TestNewSubscription_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sub, err := NewSubscription("owner-1", validSpec(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sub.ID == "" {
		t.Error("expected generated id")
	}
	if sub.OwnerID != "owner-1" {
		t.Errorf("expected owner-1, got %s", sub.OwnerID)
	}
	if !sub.Active {
		t.Error("expected new subscription to be active")
	}
	if sub.RetryPolicy.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, sub.RetryPolicy.MaxRetries)
	}
	if sub.RetryPolicy.RetryDelay != DefaultRetryDelay {
		t.Errorf("expected retry delay %v, got %v", DefaultRetryDelay, sub.RetryPolicy.RetryDelay)
	}
	if sub.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, sub.Timeout)
	}
	if len(sub.Secret) != secretLength*2 {
		t.Errorf("expected %d-char hex secret, got %d chars", secretLength*2, len(sub.Secret))
	}
	if !sub.CreatedAt.Equal(now) || !sub.UpdatedAt.Equal(now) {
		t.Error("expected timestamps to match creation time")
	}
}

func TestNewSubscription_SecretIsUniquePerCall(t *testing.T) {
	now := time.Now()

	a, err := NewSubscription("owner-1", validSpec(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewSubscription("owner-1", validSpec(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Secret == b.Secret {
		t.Error("expected distinct secrets for identical specs")
	}
	if a.ID == b.ID {
		t.Error("expected distinct ids for identical specs")
	}
}

func TestNewSubscription_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ownerID string
		mutate  func(*CreateSpec)
	}{
		{
			name:    "missing owner",
			ownerID: "",
			mutate:  func(s *CreateSpec) {},
		},
		{
			name:    "missing target url",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.TargetURL = "" },
		},
		{
			name:    "relative target url",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.TargetURL = "/hooks" },
		},
		{
			name:    "unsupported scheme",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.TargetURL = "ftp://example.com/hooks" },
		},
		{
			name:    "no event types",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.EventTypes = nil },
		},
		{
			name:    "unknown event type",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.EventTypes = []EventType{"order-created"} },
		},
		{
			name:    "reserved header",
			ownerID: "owner-1",
			mutate: func(s *CreateSpec) {
				s.CustomHeaders = map[string]string{"x-webhook-signature": "spoof"}
			},
		},
		{
			name:    "negative max retries",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.MaxRetries = intPtr(-1) },
		},
		{
			name:    "zero retry delay",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.RetryDelay = durPtr(0) },
		},
		{
			name:    "negative timeout",
			ownerID: "owner-1",
			mutate:  func(s *CreateSpec) { s.Timeout = durPtr(-time.Second) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)

			_, err := NewSubscription(tt.ownerID, spec, time.Now())
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNewSubscription_ZeroMaxRetriesAllowed(t *testing.T) {
	spec := validSpec()
	spec.MaxRetries = intPtr(0)

	sub, err := NewSubscription("owner-1", spec, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.RetryPolicy.MaxRetries != 0 {
		t.Errorf("expected zero retries, got %d", sub.RetryPolicy.MaxRetries)
	}
}

func TestSubscription_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub, err := NewSubscription("owner-1", validSpec(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	originalSecret := sub.Secret

	later := now.Add(time.Hour)
	err = sub.Apply(UpdateSpec{
		TargetURL:  strPtr("https://example.org/v2"),
		EventTypes: []EventType{EventTypeItemCheckout, EventTypeItemCheckin},
		MaxRetries: intPtr(7),
		Active:     boolPtr(false),
	}, later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sub.TargetURL != "https://example.org/v2" {
		t.Errorf("target url not updated: %s", sub.TargetURL)
	}
	if len(sub.EventTypes) != 2 {
		t.Errorf("event types not updated: %v", sub.EventTypes)
	}
	if sub.RetryPolicy.MaxRetries != 7 {
		t.Errorf("max retries not updated: %d", sub.RetryPolicy.MaxRetries)
	}
	if sub.RetryPolicy.RetryDelay != DefaultRetryDelay {
		t.Errorf("unset retry delay should be unchanged: %v", sub.RetryPolicy.RetryDelay)
	}
	if sub.Active {
		t.Error("expected subscription to be deactivated")
	}
	if sub.Secret != originalSecret {
		t.Error("secret must survive updates unchanged")
	}
	if !sub.UpdatedAt.Equal(later) {
		t.Errorf("expected UpdatedAt %v, got %v", later, sub.UpdatedAt)
	}
	if !sub.CreatedAt.Equal(now) {
		t.Error("CreatedAt must not change on update")
	}
}

func TestSubscription_Apply_InvalidFieldRejected(t *testing.T) {
	sub, err := NewSubscription("owner-1", validSpec(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = sub.Apply(UpdateSpec{EventTypes: []EventType{"not-a-type"}}, time.Now())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSubscription_SubscribesTo(t *testing.T) {
	sub := &Subscription{
		EventTypes: []EventType{EventTypeLowStockAlert, EventTypeItemCheckout},
	}

	if !sub.SubscribesTo(EventTypeLowStockAlert) {
		t.Error("expected subscription to low-stock-alert")
	}
	if sub.SubscribesTo(EventTypeUserLogin) {
		t.Error("did not expect subscription to user-login")
	}
}
