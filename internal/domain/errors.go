package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUpstreamUnavailable covers transport failures and non-2xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedResponse means the payload did not have the expected
	// row/column shape. It usually signals schema drift and is not retried.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidGeographyKind is a configuration error.
	ErrInvalidGeographyKind = errors.New("invalid geography kind")
)

// FetchError describes a failed Census API call with enough context to log
// and skip the unit deterministically.
type FetchError struct {
	Op     string // "enumerate", "fetch", "catalog"
	Target string // unit or scope the request was for
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Target, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// Retryable reports whether err is a transient upstream failure. Client
// errors other than 429 are permanent for a given request.
func Retryable(err error) bool {
	if !errors.Is(err, ErrUpstreamUnavailable) {
		return false
	}
	status := StatusCode(err)
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// RateLimited reports whether err is an HTTP 429 from upstream.
func RateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}
