// Package providercache composes the cache store, rate limiter, and call
// client into the fetch path used by application code: look up, suppress
// duplicate in-flight calls, call the provider, persist the result.
package providercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/genstudio/provider-core/pkg/cachestore"
	"github.com/genstudio/provider-core/pkg/client"
)

// Prometheus metrics for the fetch path.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_fetches_total",
		Help: "Total fetches by provider and outcome (hit, miss, error)",
	}, []string{"provider", "outcome"})

	flightShared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_fetch_shared_total",
		Help: "Fetches that piggybacked on an in-flight identical call",
	}, []string{"provider"})
)

// Payload describes one logical provider request in provider-neutral terms.
// Params carry the semantically significant settings (model, voice,
// temperature); Body carries the raw input (prompt text, audio bytes).
type Payload struct {
	Operation string
	Params    map[string]string
	Body      []byte
}

// Provider adapts a concrete upstream service to the fetch path. ID names
// the rate bucket and cache namespace; BuildRequest turns a payload into
// the wire request; Cost reports how many tokens the call consumes.
type Provider interface {
	ID() string
	BuildRequest(ctx context.Context, payload Payload) (*client.Request, error)
	Cost(payload Payload) int
}

// Caller is the call surface the layer needs from the HTTP client.
type Caller interface {
	Call(ctx context.Context, providerID string, req *client.Request, cost int) (*client.Response, error)
}

// Layer is the cache-mediated entry point for provider calls. Identical
// concurrent fetches within the process collapse to one upstream call;
// across processes the disk store's locking keeps writes safe, though
// duplicate calls may still occur.
type Layer struct {
	store      *cachestore.Store
	caller     Caller
	flight     singleflight.Group
	defaultTTL time.Duration
	logger     zerolog.Logger
}

// New creates a cache layer over the given store and caller. ttl is the
// default entry lifetime applied when a fetch does not specify one.
func New(store *cachestore.Store, caller Caller, defaultTTL time.Duration, logger zerolog.Logger) (*Layer, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("caller is required")
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}

	return &Layer{
		store:      store,
		caller:     caller,
		defaultTTL: defaultTTL,
		logger:     logger,
	}, nil
}

func (l *Layer) cacheKey(providerID string, payload Payload) cachestore.Key {
	return cachestore.Key{
		Provider:  providerID,
		Operation: payload.Operation,
		Params:    payload.Params,
		Body:      payload.Body,
	}
}

// Fetch returns the cached result for the payload, calling the provider on
// a miss and persisting the fresh result. ttl <= 0 selects the layer
// default. A cache store failure after a successful call is logged, not
// returned: the caller still gets the result.
func (l *Layer) Fetch(ctx context.Context, p Provider, payload Payload, ttl time.Duration) ([]byte, error) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	key := l.cacheKey(p.ID(), payload)
	fingerprint := key.Fingerprint()

	if entry, err := l.store.Lookup(ctx, key); err == nil {
		fetchesTotal.WithLabelValues(p.ID(), "hit").Inc()
		l.logger.Debug().
			Str("provider", p.ID()).
			Str("operation", payload.Operation).
			Str("key", cachestore.ShortFingerprint(fingerprint)).
			Msg("Cache hit")
		return entry.Payload, nil
	} else if !errors.Is(err, cachestore.ErrCacheMiss) {
		return nil, err
	}

	fetchesTotal.WithLabelValues(p.ID(), "miss").Inc()

	resultCh := l.flight.DoChan(fingerprint, func() (interface{}, error) {
		// The flight is shared by every waiter, so it runs detached from
		// the initiating caller: that caller's cancellation must not fail
		// waiters whose own contexts are healthy. Each waiter still honors
		// its own deadline in the select below.
		flightCtx := context.WithoutCancel(ctx)

		// Another process may have filled the entry while we queued
		if entry, err := l.store.Lookup(flightCtx, key); err == nil {
			return entry.Payload, nil
		}

		body, err := l.call(flightCtx, p, payload)
		if err != nil {
			return nil, err
		}

		if err := l.store.Store(flightCtx, key, body, ttl); err != nil {
			l.logger.Warn().
				Err(err).
				Str("provider", p.ID()).
				Str("key", cachestore.ShortFingerprint(fingerprint)).
				Msg("Storing fetch result failed, returning uncached")
		}

		return body, nil
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			fetchesTotal.WithLabelValues(p.ID(), "error").Inc()
			return nil, res.Err
		}
		if res.Shared {
			flightShared.WithLabelValues(p.ID()).Inc()
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallRaw calls the provider directly, bypassing lookup, duplicate
// suppression, and persistence. Use it for calls whose results must not be
// reused.
func (l *Layer) CallRaw(ctx context.Context, p Provider, payload Payload) ([]byte, error) {
	return l.call(ctx, p, payload)
}

// Invalidate removes the cached entry for the payload, if any.
func (l *Layer) Invalidate(ctx context.Context, providerID string, payload Payload) error {
	return l.store.Invalidate(ctx, l.cacheKey(providerID, payload))
}

// Store exposes the underlying cache store for maintenance operations.
func (l *Layer) Store() *cachestore.Store {
	return l.store
}

func (l *Layer) call(ctx context.Context, p Provider, payload Payload) ([]byte, error) {
	req, err := p.BuildRequest(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", p.ID(), err)
	}

	resp, err := l.caller.Call(ctx, p.ID(), req, p.Cost(payload))
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}
