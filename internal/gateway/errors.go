// ABOUTME: Uniform error shape for WhatsApp gateway API failures
// ABOUTME: Carries the HTTP status so callers can distinguish transient from permanent failures

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the uniform error returned for any non-2xx gateway response
// or transport failure. Transport failures (timeouts, connection resets)
// carry StatusGatewayTimeout so the retry policy treats them as transient.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d %s", e.Status, e.Message)
}

// Retryable reports whether the failure is worth retrying: network-level
// failures, rate limiting, and server-side errors. Client errors (4xx
// other than 429) are permanent.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsRetryable reports whether err is a transient gateway failure.
// Non-gateway errors are treated as transient (network errors from the
// HTTP client arrive unwrapped in some paths).
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return err != nil
}
