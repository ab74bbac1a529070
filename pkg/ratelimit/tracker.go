package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/dime-scraper/internal/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	dimeRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dime_rate_limit_remaining",
		Help: "Requests remaining in the current DIME throttle window",
	})

	dimeRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_rate_limit_waits_total",
		Help: "Total number of requests delayed until Retry-After elapsed",
	})

	dimeRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dime_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to a low remaining budget",
	})
)

// Tracker monitors the DIME throttle headers and gates requests. State lives
// in Redis when a client is given so several scraper processes share one
// budget; otherwise it is kept in memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu      sync.Mutex
	local   *RateLimitState
	maxWait time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a new rate limit tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:   redisClient,
		logger:  logger,
		local:   defaultState(),
		maxWait: DefaultMaxWait,
		sleep:   timeutil.Sleep,
	}
}

// SetMaxWait bounds a single Wait. A non-positive d removes the bound.
func (t *Tracker) SetMaxWait(d time.Duration) {
	t.maxWait = d
}

// GetState retrieves the current rate limit state.
// Returns a default state if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		s := *t.local
		return &s, nil
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default state")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	limit, err := t.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		remaining = unknownRemaining
	} else if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	retryAtUnix, err := t.redis.Get(ctx, RedisKeyRetryAt).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get retry at: %w", err)
	}

	var lastUpdate time.Time
	if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &RateLimitState{
		Limit:      limit,
		Remaining:  remaining,
		LastUpdate: lastUpdate,
	}
	if retryAtUnix > 0 {
		state.RetryAt = time.Unix(retryAtUnix, 0)
	}
	return state, nil
}

// UpdateFromHeaders parses the throttle headers of a response and stores
// the resulting state. Responses without throttle headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-RateLimit-Remaining")
	retryAfterStr := headers.Get("Retry-After")
	if remainStr == "" && retryAfterStr == "" {
		return nil
	}

	now := time.Now()
	state := &RateLimitState{
		Remaining:  unknownRemaining,
		LastUpdate: now,
	}

	if remainStr != "" {
		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		}
		state.Remaining = remain
	}

	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Limit header: %w", err)
		}
		state.Limit = limit
	}

	if retryAfterStr != "" {
		retryAt, err := parseRetryAfter(retryAfterStr, now)
		if err != nil {
			return fmt.Errorf("parse Retry-After header: %w", err)
		}
		state.RetryAt = retryAt
	}

	if err := t.store(ctx, state); err != nil {
		return err
	}

	if state.Known() {
		dimeRateLimitRemaining.Set(float64(state.Remaining))
	}

	switch {
	case state.Exhausted():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("retry_at", state.RetryAt).
			Msg("DIME throttle exhausted - requests will wait")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("DIME throttle low - requests will be slowed")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("DIME throttle state updated")
	}

	return nil
}

func (t *Tracker) store(ctx context.Context, state *RateLimitState) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	var retryAt int64
	if !state.RetryAt.IsZero() {
		retryAt = state.RetryAt.Unix()
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyLimit, state.Limit, StateMaxAge)
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, StateMaxAge)
	pipe.Set(ctx, RedisKeyRetryAt, retryAt, StateMaxAge)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, StateMaxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Wait blocks until a request may be sent. It waits out a pending
// Retry-After and adds ThrottleDelay while the budget is low. A state read
// failure is logged and the request is allowed; only cancellation of ctx
// produces an error.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, not gating request")
		return nil
	}

	if state.IsStale(StateMaxAge) {
		return nil
	}

	if state.Exhausted() {
		wait := state.TimeUntilRetry()
		if t.maxWait > 0 && wait > t.maxWait {
			t.logger.Warn().
				Dur("retry_after", wait).
				Dur("max_wait", t.maxWait).
				Msg("Retry-After exceeds max wait - capping")
			wait = t.maxWait
		}
		t.logger.Warn().
			Dur("wait_duration", wait).
			Msg("DIME throttle exhausted - waiting before request")
		dimeRateLimitWaitsTotal.Inc()
		return t.sleep(ctx, wait)
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("DIME throttle low - throttling request")
		dimeRateLimitThrottlesTotal.Inc()
		return t.sleep(ctx, ThrottleDelay)
	}

	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return now.Add(time.Duration(secs) * time.Second), nil
	}
	return http.ParseTime(value)
}
