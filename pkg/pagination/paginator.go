package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/dime-scraper/internal/timeutil"
	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	dimePagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_pages_fetched_total",
		Help: "Total number of non-empty pages fetched",
	})

	dimeProjectsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_projects_collected_total",
		Help: "Total number of project records accumulated",
	})

	dimePaginationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_pagination_runs_total",
		Help: "Total number of pagination runs by stop reason",
	}, []string{"stop"})
)

// Config holds paginator configuration
type Config struct {
	// PerPage is the number of records requested per page
	PerPage int
	// SortBy and SortDirection are forwarded to the API unchanged
	SortBy        string
	SortDirection string
	// MaxRetries is the number of attempts per page, including the first
	MaxRetries int
	// RetryDelay is the fixed pause between attempts of one page
	RetryDelay time.Duration
	// PageDelay is the politeness pause between successful pages
	PageDelay time.Duration
}

// DefaultConfig returns the configuration used against the public dashboard
func DefaultConfig() Config {
	return Config{
		PerPage:       100,
		SortBy:        "cost",
		SortDirection: "DESC",
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,
		PageDelay:     1 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.PerPage <= 0:
		return fmt.Errorf("per_page must be > 0 (got %d)", c.PerPage)
	case c.MaxRetries < 1:
		return fmt.Errorf("max_retries must be >= 1 (got %d)", c.MaxRetries)
	case c.RetryDelay < 0:
		return fmt.Errorf("retry_delay must be >= 0 (got %s)", c.RetryDelay)
	case c.PageDelay < 0:
		return fmt.Errorf("page_delay must be >= 0 (got %s)", c.PageDelay)
	}
	return nil
}

// PageFetcher is the interface the DIME client implements for single-page fetching
type PageFetcher interface {
	FetchPage(ctx context.Context, req client.PageRequest) (*client.PageResponse, error)
}

// StopReason records why a pagination run ended.
type StopReason string

const (
	// StopLastPage: metadata reported currentPage >= lastPage.
	StopLastPage StopReason = "last_page"
	// StopShortPage: no metadata and fewer records than PerPage.
	StopShortPage StopReason = "short_page"
	// StopEmptyPage: a page returned no records.
	StopEmptyPage StopReason = "empty_page"
	// StopRetriesExhausted: a page failed MaxRetries times; the result is partial.
	StopRetriesExhausted StopReason = "retries_exhausted"
	// StopCancelled: the context ended the run; the result is partial.
	StopCancelled StopReason = "cancelled"
)

// Result is the outcome of one pagination run.
type Result struct {
	// Projects holds every record of every successful page, in page order
	Projects []client.Project
	// Pages is the number of non-empty pages accumulated
	Pages int
	Stop  StopReason
	// Err is the last fetch error when Stop is StopRetriesExhausted, or the
	// context error when Stop is StopCancelled
	Err      error
	Duration time.Duration
}

// Complete reports whether pagination reached its natural end.
func (r Result) Complete() bool {
	switch r.Stop {
	case StopLastPage, StopShortPage, StopEmptyPage:
		return true
	}
	return false
}

// Paginator accumulates all pages of the projects listing for one filter
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPaginator creates a new paginator. Out-of-range settings fall back to
// DefaultConfig values.
func NewPaginator(fetcher PageFetcher, config Config, logger zerolog.Logger) *Paginator {
	defaults := DefaultConfig()
	if config.PerPage <= 0 {
		config.PerPage = defaults.PerPage
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  logger.With().Str("component", "paginator").Logger(),
		sleep:   timeutil.Sleep,
	}
}

// Config returns the effective configuration.
func (p *Paginator) Config() Config {
	return p.config
}

// Collect fetches pages starting at 1 until the listing ends, a page gives
// up, or ctx is cancelled. It never returns an error: failures end the run
// and are reported through Result.Stop and Result.Err alongside whatever
// was accumulated before them.
func (p *Paginator) Collect(ctx context.Context, status string) Result {
	start := time.Now()
	logger := p.logger.With().Str("status", client.StatusLabel(status)).Logger()

	var result Result
	finish := func(reason StopReason, err error) Result {
		result.Stop = reason
		result.Err = err
		result.Duration = time.Since(start)
		dimePaginationRunsTotal.WithLabelValues(string(reason)).Inc()
		return result
	}

	totalPagesLogged := false

	for page := 1; ; page++ {
		req := client.PageRequest{
			Status:        status,
			Page:          page,
			PerPage:       p.config.PerPage,
			SortBy:        p.config.SortBy,
			SortDirection: p.config.SortDirection,
		}

		resp, err := p.fetchWithRetry(ctx, req, logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.Warn().
					Int("page", page).
					Int("collected", len(result.Projects)).
					Msg("Pagination cancelled")
				return finish(StopCancelled, ctxErr)
			}
			dimeRetryExhaustedTotal.WithLabelValues(errorClass(err)).Inc()
			logger.Error().
				Err(err).
				Int("page", page).
				Int("max_retries", p.config.MaxRetries).
				Int("collected", len(result.Projects)).
				Msg("Failed to fetch page after max retries - returning partial results")
			return finish(StopRetriesExhausted, err)
		}

		if len(resp.Data) == 0 {
			logger.Info().Int("page", page).Msg("No more projects found")
			return finish(StopEmptyPage, nil)
		}

		result.Projects = append(result.Projects, resp.Data...)
		result.Pages++
		dimePagesFetchedTotal.Inc()
		dimeProjectsCollectedTotal.Add(float64(len(resp.Data)))

		logger.Info().
			Int("page", page).
			Int("records", len(resp.Data)).
			Int("collected", len(result.Projects)).
			Msg("Retrieved page")

		if resp.Meta.Present() {
			current, last := pageBounds(resp.Meta, page)
			if !totalPagesLogged {
				event := logger.Info().Int("last_page", last)
				if resp.Meta.Total != nil {
					event = event.Int("total", *resp.Meta.Total)
				}
				event.Msg("Total pages to fetch")
				totalPagesLogged = true
			}
			if current >= last {
				logger.Info().Int("last_page", last).Msg("Reached last page")
				return finish(StopLastPage, nil)
			}
		} else if len(resp.Data) < p.config.PerPage {
			logger.Info().
				Int("records", len(resp.Data)).
				Int("per_page", p.config.PerPage).
				Msg("Retrieved fewer projects than requested, assuming last page")
			return finish(StopShortPage, nil)
		}

		if err := p.sleep(ctx, p.config.PageDelay); err != nil {
			logger.Warn().
				Int("page", page).
				Int("collected", len(result.Projects)).
				Msg("Pagination cancelled")
			return finish(StopCancelled, err)
		}
	}
}

// pageBounds resolves current and last page from metadata. A missing
// currentPage means the requested page; a missing lastPage means the
// current one. Total is informational and never ends pagination.
func pageBounds(meta *client.PageMeta, requested int) (current, last int) {
	current = requested
	if meta.CurrentPage != nil {
		current = *meta.CurrentPage
	}
	last = current
	if meta.LastPage != nil {
		last = *meta.LastPage
	}
	return current, last
}
