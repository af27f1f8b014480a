package ecocloud

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials indicates the client was constructed without an
// access key or secret key. This is fatal for the whole collection round.
var ErrMissingCredentials = errors.New("ecocloud: missing credentials")

// TransportError wraps a network-level failure where no response was
// received. Callers may retry; the client itself never does.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ecocloud: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError indicates a non-2xx transport-level response, distinct from a
// vendor envelope rejection.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ecocloud: http %d", e.StatusCode)
}

// APIError carries the vendor's envelope code and message when the request
// was transported but rejected.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ecocloud: api error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("ecocloud: api error %s", e.Code)
}

// IsRetryable reports whether an error is a transient transport failure.
func IsRetryable(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
