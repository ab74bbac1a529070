// Package ratelimit tracks the upstream throttle budget advertised by the
// DIME API (X-RateLimit-Limit, X-RateLimit-Remaining and Retry-After) and
// gates requests so a scrape backs off before the server starts refusing.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyLimit      = "dime:rate_limit:limit"
	RedisKeyRemaining  = "dime:rate_limit:remaining"
	RedisKeyRetryAt    = "dime:rate_limit:retry_at"
	RedisKeyLastUpdate = "dime:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdWarning applies throttling when fewer requests than
	// this remain in the current window.
	RemainingThresholdWarning = 5

	// ThrottleDelay is the pause applied while in the warning band.
	ThrottleDelay = 1 * time.Second

	// StateMaxAge is how long a stored state is trusted without a refresh.
	StateMaxAge = 5 * time.Minute

	// DefaultMaxWait caps one Retry-After wait unless SetMaxWait changes it.
	DefaultMaxWait = 60 * time.Second
)

// unknownRemaining marks a state that has never seen throttle headers.
const unknownRemaining = -1

// RateLimitState is the last throttle budget reported by the server.
type RateLimitState struct {
	// Limit is the window size from X-RateLimit-Limit (0 if unknown).
	Limit int `json:"limit"`

	// Remaining is X-RateLimit-Remaining, or -1 when never reported.
	Remaining int `json:"remaining"`

	// RetryAt is when requests may resume, derived from Retry-After.
	RetryAt time.Time `json:"retry_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// defaultState is returned before any headers have been observed.
func defaultState() *RateLimitState {
	return &RateLimitState{
		Remaining:  unknownRemaining,
		LastUpdate: time.Now(),
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Known reports whether the server has ever sent a remaining count.
func (s *RateLimitState) Known() bool {
	return s.Remaining != unknownRemaining
}

// Exhausted returns true if the server asked us to wait before retrying.
func (s *RateLimitState) Exhausted() bool {
	return s.TimeUntilRetry() > 0
}

// NeedsThrottling returns true if the remaining budget is low but not gone.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Known() && s.Remaining < RemainingThresholdWarning && !s.Exhausted()
}

// TimeUntilRetry returns the duration until requests may resume.
// Returns 0 if no wait is pending.
func (s *RateLimitState) TimeUntilRetry() time.Duration {
	if s.RetryAt.IsZero() {
		return 0
	}
	d := time.Until(s.RetryAt)
	if d < 0 {
		return 0
	}
	return d
}
