// Package retry implements backoff computation and retry eligibility for
// failed provider calls. A Policy is a pure function of attempt count and
// failure kind; the Do loop executes a call under that policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_retries_total",
		Help: "Total number of retry attempts by failure kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_retry_backoff_seconds",
		Help:    "Backoff duration for retries by failure kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by failure kind",
	}, []string{"kind"})
)

// FailureKind classifies a failed provider call attempt.
type FailureKind string

const (
	// KindNetwork represents connection-level failures (DNS, refused, reset).
	KindNetwork FailureKind = "network"

	// KindTimeout represents deadline-exceeded failures.
	KindTimeout FailureKind = "timeout"

	// KindThrottle represents provider throttle responses (429).
	KindThrottle FailureKind = "throttle"

	// KindServer represents provider 5xx responses.
	KindServer FailureKind = "server"

	// KindAuth represents authentication failures (401/403). Never retried.
	KindAuth FailureKind = "auth"

	// KindClient represents malformed-request failures (other 4xx). Never retried.
	KindClient FailureKind = "client"

	// KindRateLimit represents local admission timeouts: the rate bucket
	// could not cover the call before the deadline. Never retried, since
	// waiting longer cannot refill tokens within the same deadline.
	KindRateLimit FailureKind = "rate_limit"

	// KindUnknown is the fallback for unclassifiable failures. Never retried.
	KindUnknown FailureKind = "unknown"
)

// Retryable reports whether failures of this kind are eligible for retry.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindThrottle, KindServer:
		return true
	default:
		return false
	}
}

// Common errors returned by the retry loop.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Policy holds the configuration for retry logic.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int

	// InitialBackoff is the backoff before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the upper bound for any single backoff.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// Jitter is the fractional randomization applied to each backoff
	// (0.2 means the delay varies within ±20%).
	Jitter float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// ShouldRetry reports whether another attempt is permitted after the given
// 1-based attempt failed with the given kind.
func (p Policy) ShouldRetry(attempt int, kind FailureKind) bool {
	return kind.Retryable() && attempt < p.MaxAttempts
}

// NextDelay computes the backoff before the retry following the given
// 1-based attempt. The delay grows exponentially, is capped at MaxBackoff,
// and carries bounded jitter.
func (p Policy) NextDelay(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
			break
		}
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.Jitter > 0 {
		backoff *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}

	return time.Duration(backoff)
}

// Do executes fn under the policy. Failed attempts are classified via the
// classify callback; retryable kinds back off and retry, non-retryable kinds
// propagate immediately. After MaxAttempts the last error is wrapped in
// ErrRetryExhausted. Backoff sleeps respect context cancellation.
func (p Policy) Do(ctx context.Context, classify func(error) FailureKind, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return nil
		}

		lastErr = err
		kind := classify(err)

		if !kind.Retryable() {
			// Non-retryable failures propagate immediately
			return lastErr
		}

		if attempt >= p.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(kind)).Inc()

		delay := p.NextDelay(attempt)
		retryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())

		log.Debug().
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("kind", string(kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}

	kind := classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
	log.Warn().
		Str("kind", string(kind)).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, p.MaxAttempts, lastErr)
}
