// Package ratelimit implements per-provider token-bucket admission control.
// Each provider gets a bucket with capacity C and refill rate R tokens per
// second; callers block in Admit until their cost is covered or the context
// deadline expires. Bucket state is process-local and ephemeral; it resets
// on restart.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for admission control.
var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_rate_admissions_total",
		Help: "Total admissions granted by provider",
	}, []string{"provider"})

	admitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_rate_admit_wait_seconds",
		Help:    "Time spent waiting for admission by provider",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"provider"})

	admitTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_rate_admit_timeouts_total",
		Help: "Total admission attempts that exceeded their deadline by provider",
	}, []string{"provider"})
)

// ErrAdmitTimeout is returned when the admission deadline is exceeded
// before enough tokens become available.
var ErrAdmitTimeout = errors.New("rate limit admission timed out")

// Limits describes a provider's token bucket: capacity Burst, refilled at
// Rate tokens per second.
type Limits struct {
	Rate  float64
	Burst int
}

// DefaultLimits returns the conservative default bucket applied to
// providers without explicit configuration.
func DefaultLimits() Limits {
	return Limits{Rate: 5, Burst: 5}
}

// Bucket gates calls to a single provider. Refill is computed lazily at
// admission time; there is no background timer.
type Bucket struct {
	provider   string
	limiter    *rate.Limiter
	admissions atomic.Int64
	logger     zerolog.Logger
}

// Admit blocks until cost tokens are available, then deducts them
// atomically. If the context deadline expires first, it returns
// ErrAdmitTimeout and the bucket is left unchanged.
func (b *Bucket) Admit(ctx context.Context, cost int) error {
	if cost > b.limiter.Burst() {
		return fmt.Errorf("admit %s: cost %d exceeds bucket capacity %d", b.provider, cost, b.limiter.Burst())
	}

	start := time.Now()
	if err := b.limiter.WaitN(ctx, cost); err != nil {
		admitTimeoutsTotal.WithLabelValues(b.provider).Inc()
		b.logger.Warn().
			Str("provider", b.provider).
			Int("cost", cost).
			Dur("waited", time.Since(start)).
			Msg("Admission deadline exceeded")
		return fmt.Errorf("%w: provider %s: %v", ErrAdmitTimeout, b.provider, err)
	}

	b.admissions.Add(1)
	admissionsTotal.WithLabelValues(b.provider).Inc()
	admitWaitSeconds.WithLabelValues(b.provider).Observe(time.Since(start).Seconds())

	b.logger.Debug().
		Str("provider", b.provider).
		Int("cost", cost).
		Float64("tokens_remaining", b.limiter.Tokens()).
		Msg("Admission granted")

	return nil
}

// Tokens returns the current token count, refilled lazily. Bounded in
// [0, capacity].
func (b *Bucket) Tokens() float64 {
	t := b.limiter.Tokens()
	if t < 0 {
		return 0
	}
	return t
}

// Admissions returns the number of admissions granted since creation.
func (b *Bucket) Admissions() int64 {
	return b.admissions.Load()
}

// Registry owns the per-provider buckets. A single long-lived Registry is
// shared by all callers in the process; buckets are created lazily from
// configured overrides or the defaults.
type Registry struct {
	mu        sync.Mutex
	buckets   map[string]*Bucket
	defaults  Limits
	overrides map[string]Limits
	logger    zerolog.Logger
}

// NewRegistry creates a registry with the given default limits and
// per-provider overrides (may be nil).
func NewRegistry(defaults Limits, overrides map[string]Limits, logger zerolog.Logger) *Registry {
	if defaults.Rate <= 0 {
		defaults = DefaultLimits()
	}
	if defaults.Burst <= 0 {
		defaults.Burst = DefaultLimits().Burst
	}
	return &Registry{
		buckets:   make(map[string]*Bucket),
		defaults:  defaults,
		overrides: overrides,
		logger:    logger,
	}
}

// Bucket returns the bucket for the given provider, creating it on first use.
func (r *Registry) Bucket(provider string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[provider]; ok {
		return b
	}

	limits := r.defaults
	if override, ok := r.overrides[provider]; ok {
		if override.Rate > 0 {
			limits.Rate = override.Rate
		}
		if override.Burst > 0 {
			limits.Burst = override.Burst
		}
	}

	b := &Bucket{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst),
		logger:   r.logger,
	}
	r.buckets[provider] = b

	r.logger.Info().
		Str("provider", provider).
		Float64("rate", limits.Rate).
		Int("burst", limits.Burst).
		Msg("Rate bucket created")

	return b
}

// Admit is shorthand for Bucket(provider).Admit(ctx, cost).
func (r *Registry) Admit(ctx context.Context, provider string, cost int) error {
	return r.Bucket(provider).Admit(ctx, cost)
}
