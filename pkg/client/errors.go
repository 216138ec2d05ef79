package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/genstudio/provider-core/pkg/ratelimit"
	"github.com/genstudio/provider-core/pkg/retry"
)

// ProviderError represents a failed provider call with its classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       retry.FailureKind
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s failure (status %d): %s: %v",
			e.Provider, e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s failure (status %d): %s",
		e.Provider, e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure is eligible for retry.
func (e *ProviderError) IsRetryable() bool {
	return e.Kind.Retryable()
}

// kindForStatus classifies an HTTP error status.
func kindForStatus(status int) retry.FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return retry.KindThrottle
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return retry.KindAuth
	case status == http.StatusRequestTimeout:
		return retry.KindTimeout
	case status >= 400 && status < 500:
		return retry.KindClient
	case status >= 500:
		return retry.KindServer
	default:
		return retry.KindUnknown
	}
}

// kindForTransportError classifies a failure that produced no HTTP response.
func kindForTransportError(err error) retry.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.KindTimeout
	}
	return retry.KindNetwork
}

// classify maps any error from a call attempt to a failure kind for the
// retry loop.
func classify(err error) retry.FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ratelimit.ErrAdmitTimeout) {
		return retry.KindRateLimit
	}
	return retry.KindUnknown
}
