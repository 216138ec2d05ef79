// Package client provides the core HTTP client for provider calls with
// rate limiting, retry, and pooled connections. It is the only component
// that performs network I/O; payloads stay opaque bytes end to end.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/genstudio/provider-core/pkg/ratelimit"
	"github.com/genstudio/provider-core/pkg/retry"
)

// Prometheus metrics for provider call operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total provider requests by provider and status",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Total provider call failures by provider and kind",
	}, []string{"provider", "kind"})
)

// Request describes one provider exchange. The body is held as bytes so
// every retry attempt rebuilds a fresh HTTP request; a consumed body can
// never leak across attempts.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw outcome of a successful exchange. Content is opaque
// to this package; parsing is the caller's job.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string

	// RequestTimeout bounds a single exchange (one attempt).
	RequestTimeout time.Duration

	// Connection pool sizing. Connections are reused across calls to
	// amortize handshake cost.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Retry is the policy applied to failed attempts.
	Retry retry.Policy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:           "provider-core/0.1.0",
		RequestTimeout:      30 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		Retry:               retry.DefaultPolicy(),
	}
}

// Client performs rate-limited, retried provider calls over a shared
// connection pool.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Registry
	config     Config
	logger     zerolog.Logger
}

// New creates a new provider call client.
func New(cfg Config, limiter *ratelimit.Registry) (*Client, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter registry is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	logger := log.With().Str("component", "provider-client").Logger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Call performs one logical provider call: admit against the provider's
// rate bucket, exchange, and retry per policy. The rate limiter is
// re-consulted on every attempt since a retry is a new call against the
// provider's rate budget. Generation-style calls are treated as
// idempotent for retry purposes.
func (c *Client) Call(ctx context.Context, providerID string, req *Request, cost int) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(providerID).Observe(time.Since(startTime).Seconds())
	}()

	var resp *Response
	err := c.config.Retry.Do(ctx, classify, func() error {
		// Each attempt pays its own admission
		if err := c.limiter.Admit(ctx, providerID, cost); err != nil {
			requestsTotal.WithLabelValues(providerID, "rate_limited").Inc()
			return err
		}

		attemptResp, err := c.exchange(ctx, providerID, req)
		if err != nil {
			return err
		}

		resp = attemptResp
		return nil
	})

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// exchange performs a single HTTP attempt.
func (c *Client) exchange(ctx context.Context, providerID string, req *Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &ProviderError{
			Provider: providerID,
			Kind:     retry.KindClient,
			Message:  "build request",
			Err:      err,
		}
	}

	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		kind := kindForTransportError(err)
		errorsTotal.WithLabelValues(providerID, string(kind)).Inc()
		requestsTotal.WithLabelValues(providerID, "transport_error").Inc()

		c.logger.Warn().
			Err(err).
			Str("provider", providerID).
			Str("kind", string(kind)).
			Msg("Provider exchange failed")

		return nil, &ProviderError{
			Provider: providerID,
			Kind:     kind,
			Message:  "exchange failed",
			Err:      err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		kind := kindForTransportError(err)
		errorsTotal.WithLabelValues(providerID, string(kind)).Inc()
		return nil, &ProviderError{
			Provider: providerID,
			Kind:     kind,
			Message:  "read response body",
			Err:      err,
		}
	}

	requestsTotal.WithLabelValues(providerID, fmt.Sprintf("%d", httpResp.StatusCode)).Inc()

	if httpResp.StatusCode >= 400 {
		kind := kindForStatus(httpResp.StatusCode)
		errorsTotal.WithLabelValues(providerID, string(kind)).Inc()

		c.logger.Warn().
			Str("provider", providerID).
			Int("status", httpResp.StatusCode).
			Str("kind", string(kind)).
			Msg("Provider returned error status")

		return nil, &ProviderError{
			Provider:   providerID,
			StatusCode: httpResp.StatusCode,
			Kind:       kind,
			Message:    httpResp.Status,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       body,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Limiter returns the rate limiter registry backing this client.
func (c *Client) Limiter() *ratelimit.Registry {
	return c.limiter
}

// Close releases idle pooled connections.
func (c *Client) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
