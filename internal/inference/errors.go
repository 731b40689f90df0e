package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ProviderError is returned when the model provider rejects or fails a call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

// NewProviderError classifies a failed call by its HTTP status. A zero
// status means the request never got a response.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500,
		Err:        err,
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MalformedOutputError is returned when the model output is not the
// expected JSON document.
type MalformedOutputError struct {
	Output string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed generation may succeed when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// A ProviderError wrapping a deadline is a per-request timeout and stays
	// retryable. Bare context errors come from the caller's context.
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
