package classify

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrUnavailable is returned when the classifier cannot be reached.
	ErrUnavailable = errors.New("classify: classifier unavailable")

	// ErrEmptySample is returned for a zero-length sample.
	ErrEmptySample = errors.New("classify: empty sample")
)

// APIError represents an error response from a classifier service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the service.
	Message string

	// Endpoint identifies which classifier returned the error.
	Endpoint string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("classify [%s]: API error %d: %s",
		e.Endpoint, e.StatusCode, e.Message)
}

// IsRateLimited returns true for a rate limit response (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the call should be retried with backoff.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// IsRetryable reports whether err indicates a transient condition the
// capture scheduler should back off and retry. Transport errors count.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	// Anything other than an explicit non-retryable API response is
	// treated as transient (timeouts, refused connections).
	return true
}
