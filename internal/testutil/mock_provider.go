// Package testutil provides shared test helpers: a mock provider HTTP
// server with request counting and programmable failures, and a minimal
// Provider implementation bound to it.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/genstudio/provider-core/pkg/client"
	"github.com/genstudio/provider-core/pkg/providercache"
)

// MockProvider is an in-process HTTP server standing in for an upstream
// provider. It counts requests and can be programmed to fail.
type MockProvider struct {
	Server *httptest.Server

	mu           sync.Mutex
	requests     int
	handler      http.HandlerFunc
	failuresLeft int
	failStatus   int
}

// NewMockProvider starts a mock provider server. It is shut down
// automatically when the test finishes.
func NewMockProvider(t *testing.T) *MockProvider {
	t.Helper()

	m := &MockProvider{}
	m.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": "mock result"}`))
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Server.Close)
	return m
}

func (m *MockProvider) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	if m.failuresLeft > 0 {
		m.failuresLeft--
		status := m.failStatus
		m.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	handler := m.handler
	m.mu.Unlock()

	handler(w, r)
}

// URL returns the mock server's base URL.
func (m *MockProvider) URL() string {
	return m.Server.URL
}

// RequestCount returns how many requests the server has received,
// including programmed failures.
func (m *MockProvider) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// SetHandler replaces the success handler.
func (m *MockProvider) SetHandler(handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetResponse makes the server answer every request with a fixed status
// and body.
func (m *MockProvider) SetResponse(status int, body []byte) {
	m.SetHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write(body)
	})
}

// FailTimes makes the next n requests fail with the given status before
// the regular handler takes over again.
func (m *MockProvider) FailTimes(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresLeft = n
	m.failStatus = status
}

// StaticProvider implements providercache.Provider against a fixed base
// URL, posting the payload body to baseURL/<operation>.
type StaticProvider struct {
	ProviderID string
	BaseURL    string
	CallCost   int
}

// ID implements providercache.Provider.
func (p *StaticProvider) ID() string { return p.ProviderID }

// BuildRequest implements providercache.Provider.
func (p *StaticProvider) BuildRequest(ctx context.Context, payload providercache.Payload) (*client.Request, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	for name, value := range payload.Params {
		header.Set("X-Param-"+name, value)
	}

	return &client.Request{
		Method: http.MethodPost,
		URL:    p.BaseURL + "/" + payload.Operation,
		Header: header,
		Body:   payload.Body,
	}, nil
}

// Cost implements providercache.Provider.
func (p *StaticProvider) Cost(payload providercache.Payload) int {
	if p.CallCost > 0 {
		return p.CallCost
	}
	return 1
}
