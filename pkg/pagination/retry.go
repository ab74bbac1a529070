package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	dimeRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_retries_total",
		Help: "Total number of page retry attempts by error class",
	}, []string{"error_class"})

	dimeRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_retry_exhausted_total",
		Help: "Total number of pages that exhausted their attempts, by error class",
	}, []string{"error_class"})
)

// fetchWithRetry fetches one page, making at most MaxRetries attempts with
// a constant RetryDelay between consecutive attempts. Invalid requests are
// not retried.
func (p *Paginator) fetchWithRetry(ctx context.Context, req client.PageRequest, logger zerolog.Logger) (*client.PageResponse, error) {
	var (
		page    *client.PageResponse
		attempt int
	)

	operation := func() error {
		attempt++
		resp, err := p.fetcher.FetchPage(ctx, req)
		if err != nil {
			logger.Warn().
				Err(err).
				Int("page", req.Page).
				Int("attempt", attempt).
				Int("max_retries", p.config.MaxRetries).
				Str("error_class", errorClass(err)).
				Msg("Page fetch attempt failed")
			if errors.Is(err, client.ErrInvalidRequest) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		dimeRetriesTotal.WithLabelValues(errorClass(err)).Inc()
		logger.Info().
			Int("page", req.Page).
			Dur("retry_delay", wait).
			Msg("Retrying page after delay")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(p.config.MaxRetries-1)),
		ctx,
	)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	if attempt > 1 {
		logger.Info().
			Int("page", req.Page).
			Int("attempt", attempt).
			Msg("Page succeeded after retry")
	}
	return page, nil
}

// errorClass extracts the fetch error class for metric labels.
func errorClass(err error) string {
	var fe *client.FetchError
	if errors.As(err, &fe) {
		return string(fe.Class)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "unknown"
}
