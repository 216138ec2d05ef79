package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/genstudio/provider-core/pkg/ratelimit"
	"github.com/genstudio/provider-core/pkg/retry"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   retry.FailureKind
	}{
		{http.StatusTooManyRequests, retry.KindThrottle},
		{http.StatusUnauthorized, retry.KindAuth},
		{http.StatusForbidden, retry.KindAuth},
		{http.StatusRequestTimeout, retry.KindTimeout},
		{http.StatusBadRequest, retry.KindClient},
		{http.StatusNotFound, retry.KindClient},
		{http.StatusInternalServerError, retry.KindServer},
		{http.StatusBadGateway, retry.KindServer},
		{http.StatusServiceUnavailable, retry.KindServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := kindForStatus(tt.status); got != tt.kind {
				t.Errorf("kindForStatus(%d) = %s, want %s", tt.status, got, tt.kind)
			}
		})
	}
}

func TestKindForTransportError(t *testing.T) {
	if got := kindForTransportError(context.DeadlineExceeded); got != retry.KindTimeout {
		t.Errorf("DeadlineExceeded classified as %s, want timeout", got)
	}
	if got := kindForTransportError(errors.New("connection refused")); got != retry.KindNetwork {
		t.Errorf("Generic transport error classified as %s, want network", got)
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &ProviderError{
		Provider: "llm",
		Kind:     retry.KindNetwork,
		Message:  "exchange failed",
		Err:      inner,
	}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var pe *ProviderError
	if !errors.As(error(err), &pe) {
		t.Error("errors.As should match *ProviderError")
	}
}

func TestProviderError_IsRetryable(t *testing.T) {
	retryable := &ProviderError{Kind: retry.KindServer}
	if !retryable.IsRetryable() {
		t.Error("server failure should be retryable")
	}

	terminal := &ProviderError{Kind: retry.KindAuth}
	if terminal.IsRetryable() {
		t.Error("auth failure should not be retryable")
	}
}

func TestClassify(t *testing.T) {
	pe := &ProviderError{Kind: retry.KindThrottle}
	if got := classify(pe); got != retry.KindThrottle {
		t.Errorf("classify(ProviderError) = %s, want throttle", got)
	}

	wrapped := fmt.Errorf("call failed: %w", &ProviderError{Kind: retry.KindServer})
	if got := classify(wrapped); got != retry.KindServer {
		t.Errorf("classify(wrapped) = %s, want server", got)
	}

	admit := fmt.Errorf("%w: provider llm", ratelimit.ErrAdmitTimeout)
	if got := classify(admit); got != retry.KindRateLimit {
		t.Errorf("classify(admit timeout) = %s, want rate_limit", got)
	}
	if retry.KindRateLimit.Retryable() {
		t.Error("Admission timeouts must not be retryable")
	}

	if got := classify(errors.New("mystery")); got != retry.KindUnknown {
		t.Errorf("classify(unknown) = %s, want unknown", got)
	}
}
