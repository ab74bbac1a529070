// Package metrics is the index of the Prometheus metrics exported by the
// scraper. Metrics are defined in their own packages (client, pagination,
// output, cache, ratelimit) and registered through promauto; this package
// only exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the scraper.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - dime_requests_total{status} (Counter): Requests by HTTP status
//   - dime_request_duration_seconds (Histogram): Request duration
//   - dime_errors_total{class} (Counter): Fetch errors by class
//
// Pagination Metrics (pkg/pagination):
//   - dime_pages_fetched_total (Counter): Non-empty pages accumulated
//   - dime_projects_collected_total (Counter): Records accumulated
//   - dime_pagination_runs_total{stop} (Counter): Runs by stop reason
//   - dime_retries_total{error_class} (Counter): Page retries
//   - dime_retry_exhausted_total{error_class} (Counter): Pages abandoned
//
// Output Metrics (pkg/output):
//   - dime_files_written_total (Counter): Chunk files written
//   - dime_records_written_total (Counter): Records written
//
// Throttle Metrics (pkg/ratelimit):
//   - dime_rate_limit_remaining (Gauge): Remaining requests in window
//   - dime_rate_limit_waits_total (Counter): Waits for Retry-After
//   - dime_rate_limit_throttles_total (Counter): Low-budget throttles
//
// Cache Metrics (pkg/cache, pkg/client):
//   - dime_cache_hits_total, dime_cache_misses_total (Counter)
//   - dime_cache_errors_total{operation} (Counter)
//   - dime_conditional_requests_total, dime_304_responses_total (Counter): Revalidations
//
// Example Prometheus Queries:
//
//   # Share of runs that ended early
//   sum(rate(dime_pagination_runs_total{stop=~"retries_exhausted|cancelled"}[1h]))
//     / sum(rate(dime_pagination_runs_total[1h]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(dime_request_duration_seconds_bucket[5m]))
