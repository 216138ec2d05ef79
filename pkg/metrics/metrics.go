// Package metrics exposes the Prometheus metrics endpoint.
//
// All metrics are registered on the default registry by the packages that
// own them:
//
//	provider_requests_total{provider,status}       - pkg/client
//	provider_request_duration_seconds{provider}    - pkg/client
//	provider_errors_total{provider,kind}           - pkg/client
//	provider_retries_total{kind}                   - pkg/retry
//	provider_retry_backoff_seconds{kind}           - pkg/retry
//	provider_retry_exhausted_total{kind}           - pkg/retry
//	provider_rate_admissions_total{provider}       - pkg/ratelimit
//	provider_rate_admit_wait_seconds{provider}     - pkg/ratelimit
//	provider_rate_admit_timeouts_total{provider}   - pkg/ratelimit
//	provider_cache_hits_total                      - pkg/cachestore
//	provider_cache_misses_total{reason}            - pkg/cachestore
//	provider_cache_errors_total{operation}         - pkg/cachestore
//	provider_cache_lock_wait_seconds               - pkg/cachestore
//	provider_fetches_total{provider,outcome}       - pkg/providercache
//	provider_fetch_shared_total{provider}          - pkg/providercache
//	provider_prefetch_items_total{provider,outcome} - pkg/batch
//	provider_prefetch_duration_seconds{provider}   - pkg/batch
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
