// Package client provides the HTTP client for the DIME projects API with
// throttle gating, optional conditional-request caching and error
// classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dime-scraper/pkg/cache"
	"github.com/Sternrassler/dime-scraper/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ProjectsPath is the projects listing endpoint relative to the base URL.
const ProjectsPath = "/api/v1/projects"

// Prometheus metrics for DIME client operations.
var (
	dimeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_requests_total",
		Help: "Total DIME API requests by status",
	}, []string{"status"})

	dimeRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dime_request_duration_seconds",
		Help:    "DIME API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	dimeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dime_errors_total",
		Help: "Total DIME fetch errors by class",
	}, []string{"class"})

	dimeConditionalRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_conditional_requests_total",
		Help: "Total number of requests sent with If-None-Match or If-Modified-Since",
	})

	dimeNotModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_304_responses_total",
		Help: "Total number of 304 Not Modified responses served from the page cache",
	})
)

// Client fetches pages of project records from the DIME API.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Store
	config      Config
	endpoint    *url.URL
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the dashboard, e.g. "https://www.dime.gov.ph".
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// Redis is optional. When set, throttle state is shared through it and
	// CacheResponses enables the conditional-request cache.
	Redis          *redis.Client
	CacheResponses bool
}

// DefaultBaseURL is the public DIME dashboard.
const DefaultBaseURL = "https://www.dime.gov.ph"

// DefaultUserAgent mimics a desktop browser; the dashboard rejects some
// non-browser agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Config{
		BaseURL:   baseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a new DIME client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	logger = logger.With().Str("component", "dime-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		config:      cfg,
		endpoint:    base.JoinPath(ProjectsPath),
		logger:      logger,
	}

	// A Retry-After wait never holds a request longer than its own timeout.
	c.rateLimiter.SetMaxWait(cfg.Timeout)

	if cfg.Redis != nil && cfg.CacheResponses {
		c.cache = cache.NewStore(cfg.Redis)
	}

	return c, nil
}

// Endpoint returns the absolute projects endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// BaseURL returns the configured dashboard base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Query builds the query parameters for a page request. When a status is
// set it is sent as both "status" and "statusName"; the upstream API does
// not filter consistently on either one alone.
func Query(pr PageRequest) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(pr.Page))
	q.Set("perPage", strconv.Itoa(pr.PerPage))
	q.Set("sortBy", pr.SortBy)
	q.Set("sortDirection", pr.SortDirection)
	if pr.Status != "" {
		q.Set("status", pr.Status)
		q.Set("statusName", pr.Status)
	}
	return q
}

// FetchPage performs one GET for the requested page and decodes the body.
// It never retries; every failure is reported as a *FetchError.
func (c *Client) FetchPage(ctx context.Context, pr PageRequest) (*PageResponse, error) {
	if pr.Page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1 (got %d)", ErrInvalidRequest, pr.Page)
	}
	if pr.PerPage <= 0 {
		return nil, fmt.Errorf("%w: per_page must be > 0 (got %d)", ErrInvalidRequest, pr.PerPage)
	}

	query := Query(pr)
	u := *c.endpoint
	u.RawQuery = query.Encode()

	startTime := time.Now()
	defer func() {
		dimeRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Info().
		Int("page", pr.Page).
		Str("status", StatusLabel(pr.Status)).
		Msg("Fetching page")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, c.fail(pr.Page, 0, ErrorClassNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, c.fail(pr.Page, 0, ErrorClassNetwork, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	cacheKey := cache.Key(c.endpoint.Path, query)
	var cached *cache.Entry
	if c.cache != nil {
		cached, err = c.cache.Lookup(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn().Err(err).Int("page", pr.Page).Msg("Cache lookup error")
		}
		if cached.Conditional(req) {
			dimeConditionalRequestsTotal.Inc()
			c.logger.Debug().
				Int("page", pr.Page).
				Str("etag", cached.ETag).
				Msg("Making conditional request")
		} else {
			cached = nil
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		dimeRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, c.fail(pr.Page, 0, ErrorClassNetwork, err)
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	dimeRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	var body []byte
	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		c.logger.Debug().Int("page", pr.Page).Msg("304 Not Modified - using cache")
		dimeNotModifiedTotal.Inc()
		if err := c.cache.Touch(ctx, cacheKey, cache.Expiry(resp.Header, time.Now())); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to extend cache entry")
		}
		body = cached.Body

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		class := classifyStatus(resp.StatusCode)
		c.logger.Warn().
			Int("page", pr.Page).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("DIME request error")
		return nil, c.fail(pr.Page, resp.StatusCode, class,
			fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status))

	default:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, c.fail(pr.Page, resp.StatusCode, ErrorClassNetwork, fmt.Errorf("read body: %w", err))
		}
		if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, c.fail(pr.Page, resp.StatusCode, ErrorClassDecode, ErrNotObject)
		}
		if c.cache != nil && resp.StatusCode == http.StatusOK {
			c.store(ctx, cacheKey, resp.Header, body)
		}
	}

	var page PageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, c.fail(pr.Page, resp.StatusCode, ErrorClassDecode, fmt.Errorf("decode body: %w", err))
	}

	return &page, nil
}

// store keeps a successful response for later conditional requests.
// Responses without validators are not stored.
func (c *Client) store(ctx context.Context, key string, h http.Header, body []byte) {
	now := time.Now()
	entry := cache.NewEntry(h, body, now)
	if entry == nil {
		return
	}
	expires := cache.Expiry(h, now)
	if err := c.cache.Save(ctx, key, entry, expires); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().Str("key", key).Time("expires", expires).Msg("Cached response")
}

func (c *Client) fail(page, statusCode int, class ErrorClass, err error) *FetchError {
	dimeErrorsTotal.WithLabelValues(string(class)).Inc()
	return &FetchError{
		Page:       page,
		StatusCode: statusCode,
		Class:      class,
		Err:        err,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the throttle tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// StatusLabel renders a status filter for logs; the empty filter is "All".
func StatusLabel(status string) string {
	if status == "" {
		return "All"
	}
	return status
}
