// Command provider-proxy runs the caching provider gateway as a daemon.
// Clients POST provider payloads; the proxy serves cached results where it
// can and mediates rate-limited upstream calls where it cannot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/genstudio/provider-core/pkg/cachestore"
	"github.com/genstudio/provider-core/pkg/client"
	"github.com/genstudio/provider-core/pkg/config"
	"github.com/genstudio/provider-core/pkg/logging"
	"github.com/genstudio/provider-core/pkg/metrics"
	"github.com/genstudio/provider-core/pkg/providercache"
	"github.com/genstudio/provider-core/pkg/ratelimit"
)

// httpProvider adapts a configured base URL to the Provider interface.
// Payload params travel as headers; the body is forwarded untouched.
type httpProvider struct {
	id      string
	baseURL string
}

func (p *httpProvider) ID() string { return p.id }

func (p *httpProvider) BuildRequest(ctx context.Context, payload providercache.Payload) (*client.Request, error) {
	if payload.Operation == "" {
		return nil, fmt.Errorf("operation is required")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	for name, value := range payload.Params {
		header.Set("X-Param-"+name, value)
	}

	return &client.Request{
		Method: http.MethodPost,
		URL:    p.baseURL + "/" + payload.Operation,
		Header: header,
		Body:   payload.Body,
	}, nil
}

func (p *httpProvider) Cost(payload providercache.Payload) int { return 1 }

// fetchRequest is the wire format for /fetch, /call, and /invalidate.
// Body is base64 in JSON per encoding/json []byte handling.
type fetchRequest struct {
	Operation  string            `json:"operation"`
	Params     map[string]string `json:"params,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// server holds the daemon's wired components.
type server struct {
	layer     *providercache.Layer
	providers map[string]*httpProvider
	logger    zerolog.Logger
}

func newServer(layer *providercache.Layer, providerURLs map[string]string, logger zerolog.Logger) *server {
	providers := make(map[string]*httpProvider, len(providerURLs))
	for id, baseURL := range providerURLs {
		providers[id] = &httpProvider{id: id, baseURL: baseURL}
	}

	return &server{
		layer:     layer,
		providers: providers,
		logger:    logger,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fetch/{provider}", s.handleFetch)
	mux.HandleFunc("POST /call/{provider}", s.handleCall)
	mux.HandleFunc("POST /invalidate/{provider}", s.handleInvalidate)
	mux.HandleFunc("POST /sweep", s.handleSweep)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *server) provider(w http.ResponseWriter, r *http.Request) (*httpProvider, bool) {
	id := r.PathValue("provider")
	p, ok := s.providers[id]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", id))
		return nil, false
	}
	return p, true
}

func (s *server) decode(w http.ResponseWriter, r *http.Request) (*fetchRequest, bool) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return nil, false
	}
	if req.Operation == "" {
		s.writeError(w, http.StatusBadRequest, "operation is required")
		return nil, false
	}
	return &req, true
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	body, err := s.layer.Fetch(r.Context(), p, providercache.Payload{
		Operation: req.Operation,
		Params:    req.Params,
		Body:      req.Body,
	}, ttl)
	if err != nil {
		s.writeUpstreamError(w, p.ID(), err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	body, err := s.layer.CallRaw(r.Context(), p, providercache.Payload{
		Operation: req.Operation,
		Params:    req.Params,
		Body:      req.Body,
	})
	if err != nil {
		s.writeUpstreamError(w, p.ID(), err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(body)
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	err := s.layer.Invalidate(r.Context(), p.ID(), providercache.Payload{
		Operation: req.Operation,
		Params:    req.Params,
		Body:      req.Body,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := s.layer.Store().Sweep(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.layer.Store().Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// writeUpstreamError maps internal failures to gateway statuses.
func (s *server) writeUpstreamError(w http.ResponseWriter, providerID string, err error) {
	s.logger.Warn().
		Err(err).
		Str("provider", providerID).
		Msg("Upstream call failed")

	status := http.StatusBadGateway
	if errors.Is(err, ratelimit.ErrAdmitTimeout) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	var pe *client.ProviderError
	if errors.As(err, &pe) && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		// Pass caller mistakes through unchanged
		status = pe.StatusCode
	}

	s.writeError(w, status, err.Error())
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := logging.NewLogger("provider-proxy")

	store, err := cachestore.New(cfg.CacheDir, logging.NewLogger("cachestore"))
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}

	overrides, err := cfg.Overrides()
	if err != nil {
		return fmt.Errorf("rate overrides: %w", err)
	}
	registry := ratelimit.NewRegistry(cfg.Limits(), overrides, logging.NewLogger("ratelimit"))

	clientCfg := client.DefaultConfig()
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.RequestTimeout = cfg.RequestTimeout
	clientCfg.Retry = cfg.RetryPolicy()

	httpClient, err := client.New(clientCfg, registry)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer httpClient.Close()

	layer, err := providercache.New(store, httpClient, cfg.DefaultTTL, logging.NewLogger("providercache"))
	if err != nil {
		return fmt.Errorf("create cache layer: %w", err)
	}

	if len(cfg.ProviderURLs) == 0 {
		logger.Warn().Msg("No providers configured, set PROVIDER_URLS")
	}

	srv := newServer(layer, cfg.ProviderURLs, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("cache_dir", store.Dir()).
			Int("providers", len(cfg.ProviderURLs)).
			Msg("provider-proxy listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "provider-proxy: %v\n", err)
		os.Exit(1)
	}
}
