// Package batch prefetches collections of provider payloads concurrently
// through the cache layer, warming the cache ahead of sequential use.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/genstudio/provider-core/pkg/providercache"
)

// Prometheus metrics for batch prefetching.
var (
	prefetchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_prefetch_items_total",
		Help: "Prefetched payloads by provider and outcome (fetched, failed)",
	}, []string{"provider", "outcome"})

	prefetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_prefetch_duration_seconds",
		Help:    "Duration of whole prefetch batches by provider",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"provider"})
)

// Config holds prefetcher settings.
type Config struct {
	// MaxConcurrency bounds simultaneous fetches within a batch.
	MaxConcurrency int

	// PerItemTimeout bounds each individual fetch. Zero disables the bound.
	PerItemTimeout time.Duration

	// TTL applied to entries stored during the prefetch. Zero selects the
	// cache layer's default.
	TTL time.Duration
}

// DefaultConfig returns the default prefetcher settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		PerItemTimeout: 2 * time.Minute,
	}
}

// Result summarizes one prefetch batch. Failures do not abort the batch;
// every payload is attempted.
type Result struct {
	Fetched int
	Failed  int
	Errors  []error
}

// Prefetcher warms the cache for batches of payloads.
type Prefetcher struct {
	layer  *providercache.Layer
	config Config
	logger zerolog.Logger
}

// New creates a prefetcher over the given cache layer.
func New(layer *providercache.Layer, cfg Config) (*Prefetcher, error) {
	if layer == nil {
		return nil, fmt.Errorf("cache layer is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	return &Prefetcher{
		layer:  layer,
		config: cfg,
		logger: log.With().Str("component", "batch-prefetch").Logger(),
	}, nil
}

// Prefetch fetches every payload through the cache layer, at most
// MaxConcurrency at a time. Individual failures are collected in the
// Result; the batch itself only fails when the context is cancelled.
func (p *Prefetcher) Prefetch(ctx context.Context, provider providercache.Provider, payloads []providercache.Payload) (*Result, error) {
	if len(payloads) == 0 {
		return &Result{}, nil
	}

	startTime := time.Now()
	defer func() {
		prefetchDuration.WithLabelValues(provider.ID()).Observe(time.Since(startTime).Seconds())
	}()

	p.logger.Info().
		Str("provider", provider.ID()).
		Int("payloads", len(payloads)).
		Int("concurrency", p.config.MaxConcurrency).
		Msg("Starting prefetch batch")

	var mu sync.Mutex
	result := &Result{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)

	for _, payload := range payloads {
		payload := payload
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			itemCtx := gctx
			if p.config.PerItemTimeout > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(gctx, p.config.PerItemTimeout)
				defer cancel()
			}

			_, err := p.layer.Fetch(itemCtx, provider, payload, p.config.TTL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("prefetch %s: %w", payload.Operation, err))
				prefetchItemsTotal.WithLabelValues(provider.ID(), "failed").Inc()

				p.logger.Warn().
					Err(err).
					Str("provider", provider.ID()).
					Str("operation", payload.Operation).
					Msg("Prefetch item failed")

				// Item failures stay in the result, they do not abort siblings
				return nil
			}

			result.Fetched++
			prefetchItemsTotal.WithLabelValues(provider.ID(), "fetched").Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	p.logger.Info().
		Str("provider", provider.ID()).
		Int("fetched", result.Fetched).
		Int("failed", result.Failed).
		Dur("duration", time.Since(startTime)).
		Msg("Prefetch batch complete")

	return result, nil
}
