package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for fetch operations. Callers should use errors.Is to check.
var (
	// ErrTimeout indicates the request did not complete within its deadline.
	ErrTimeout = errors.New("fetch: request timed out")
	// ErrNetwork indicates a DNS, connection or transport failure.
	ErrNetwork = errors.New("fetch: network error")
	// ErrHTTPStatus indicates a non-2xx response; the concrete error is *StatusError.
	ErrHTTPStatus = errors.New("fetch: unexpected HTTP status")
	// ErrBodyTooLarge indicates the response exceeded the configured size limit.
	ErrBodyTooLarge = errors.New("fetch: response body exceeds size limit")
	// ErrCircuitOpen indicates the per-host circuit breaker rejected the request.
	ErrCircuitOpen = errors.New("fetch: circuit breaker open")
	// ErrInvalidURL indicates the URL could not be parsed or has an unsupported scheme.
	ErrInvalidURL = errors.New("fetch: invalid URL")
)

// Error kinds reported in resource load results.
const (
	KindTimeout       = "timeout"
	KindHTTPStatus    = "http-status-error"
	KindNetwork       = "network-error"
	KindSerialization = "serialization-error"
	KindCircuitOpen   = "circuit-open"
)

// StatusError carries the status of a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected HTTP status %s from %s", e.Status, e.URL)
}

// Unwrap returns ErrHTTPStatus for errors.Is.
func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

var _ error = (*StatusError)(nil)

// Kind maps an error returned by Client.Get to its taxonomy string.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrHTTPStatus):
		return KindHTTPStatus
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	default:
		return KindNetwork
	}
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 404
}

// classify wraps a transport error in ErrTimeout or ErrNetwork.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
