package commerce

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the commerce API so callers can
// branch on behavior instead of matching message strings themselves.
type ErrorKind string

const (
	// KindValidation marks requests rejected before any side effect occurred.
	KindValidation ErrorKind = "validation"
	// KindSessionConflict marks the benign race where the backend already holds
	// a payment collection or session for the cart; callers continue as success.
	KindSessionConflict ErrorKind = "session_conflict"
	// KindProviderUnavailable marks a payment provider that is not offered for the cart.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	// KindRedirectInProgress marks an internal redirect signal; not a failure.
	KindRedirectInProgress ErrorKind = "redirect_in_progress"
	// KindNetwork marks transport failures where the request may not have reached the backend.
	KindNetwork ErrorKind = "network"
	// KindProvider marks any other backend or provider error.
	KindProvider ErrorKind = "provider"
)

// APIError is the typed error returned by the commerce client.
type APIError struct {
	Kind    ErrorKind
	Message string
	Status  int
	wrapped error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "commerce: unknown error"
	}
	if e.Message == "" {
		return fmt.Sprintf("commerce: %s", e.Kind)
	}
	return fmt.Sprintf("commerce: %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying transport error when present.
func (e *APIError) Unwrap() error { return e.wrapped }

// KindOf extracts the classified kind from an error chain, defaulting to KindProvider.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindProvider
}

// IsBenignConflict reports whether the error is the known already-exists race
// that session creation recovers from silently.
func IsBenignConflict(err error) bool {
	return KindOf(err) == KindSessionConflict
}

// IsRedirectSignal reports whether the error is an internal redirect marker
// rather than a genuine failure.
func IsRedirectSignal(err error) bool {
	return KindOf(err) == KindRedirectInProgress
}

// Substrings the backend emits for the known-benign session races. Matching is
// deliberately confined to classifyError so provider message drift has a single
// point of change.
var conflictMarkers = []string{
	"already has a payment collection",
	"already exists",
	"payment session",
}

var unavailableMarkers = []string{
	"provider not offered",
	"provider is not enabled",
	"unknown provider",
}

// classifyError maps a raw backend error message to an ErrorKind.
func classifyError(message string) ErrorKind {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return KindProvider
	}
	if strings.Contains(message, "NEXT_REDIRECT") {
		return KindRedirectInProgress
	}
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return KindSessionConflict
		}
	}
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return KindProviderUnavailable
		}
	}
	return KindProvider
}

// newAPIError builds a classified error from a backend message.
func newAPIError(status int, message string) *APIError {
	kind := classifyError(message)
	if kind == KindProvider && status >= 400 && status < 500 {
		kind = KindValidation
	}
	return &APIError{Kind: kind, Message: strings.TrimSpace(message), Status: status}
}

// newNetworkError wraps a transport failure.
func newNetworkError(err error) *APIError {
	return &APIError{Kind: KindNetwork, Message: err.Error(), wrapped: err}
}
