// Package domain contains the core entities of the webhook pipeline:
// subscriptions, delivery events, and the filter predicate.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow handlers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested subscription or event does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates the input data is invalid or malformed.
	// Nothing is persisted when a call fails with this error.
	ErrValidation = errors.New("invalid input")
)
