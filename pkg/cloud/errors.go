package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the provider-agnostic form of a cloud API failure. Adapters
// wrapping real SDKs translate provider error types into this at the
// boundary so the rest of the system classifies failures one way.
type APIError struct {
	// StatusCode is the HTTP status returned by the provider.
	StatusCode int

	// Message is the provider's error message.
	Message string

	// Err is the underlying SDK error, if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("cloud api error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying SDK error.
func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError wraps a provider failure with its HTTP status.
func NewAPIError(status int, message string, err error) *APIError {
	return &APIError{StatusCode: status, Message: message, Err: err}
}

// IsAlreadyDoneError reports whether the failure means the requested change
// has already happened: create hit an existing object, delete hit a missing
// one. Steps treat these as success so replays after a crash converge
// instead of failing. Centralized here so individual steps never compare
// status codes themselves.
func IsAlreadyDoneError(err error) bool {
	var e *APIError
	if !errors.As(err, &e) {
		return false
	}
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether the failure is transient: throttling, server
// errors, timeouts. These surface as FAILURE_RETRY and stay inside the
// retry-rule loop.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *APIError
	if !errors.As(err, &e) {
		return false
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
