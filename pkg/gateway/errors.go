package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPaymentNotFound is returned by LookupPayment when the backend has no
// record for the idempotency key.
var ErrPaymentNotFound = errors.New("gateway: payment not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gateway: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: http %d: %s", e.StatusCode, e.Detail)
}

// IsRetryable classifies a capture failure. Network-level errors, timeouts,
// rate limiting and 5xx responses are worth retrying with the same
// idempotency key. Other 4xx responses (declined card, validation) are
// definitive: retrying them would only re-attempt a payment the backend has
// already refused.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPaymentNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// No HTTP status at all: connection refused, DNS, timeout.
	return true
}
