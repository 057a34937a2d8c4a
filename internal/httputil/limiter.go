// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"sync"
	"time"
)

const (
	// BaselineBackoff is the backoff after any successful call.
	BaselineBackoff = 1000 * time.Millisecond

	// MaxBackoff caps the doubling on 429 and 5xx responses.
	MaxBackoff = 30000 * time.Millisecond
)

// LimiterState is a snapshot of a Limiter.
type LimiterState struct {
	LastRequestTime   time.Time `json:"lastRequestTime"`
	BackoffMs         int64     `json:"backoffMs"`
	MaxBackoffMs      int64     `json:"maxBackoffMs"`
	RateLimitHitCount int       `json:"rateLimitHitCount"`
}

// Limiter holds the backoff state for one upstream. It is safe for
// concurrent use; concurrent probes against different providers should
// still use one Limiter each so one provider's throttling does not slow
// the others.
type Limiter struct {
	mu          sync.Mutex
	lastRequest time.Time
	backoff     time.Duration
	max         time.Duration
	hits        int
}

// NewLimiter returns a Limiter at the baseline backoff.
func NewLimiter() *Limiter {
	return &Limiter{backoff: BaselineBackoff, max: MaxBackoff}
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() LimiterState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterState{
		LastRequestTime:   l.lastRequest,
		BackoffMs:         l.backoff.Milliseconds(),
		MaxBackoffMs:      l.max.Milliseconds(),
		RateLimitHitCount: l.hits,
	}
}

// Backoff returns the current backoff.
func (l *Limiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

func (l *Limiter) markRequest(now time.Time) {
	l.mu.Lock()
	l.lastRequest = now
	l.mu.Unlock()
}

// RecordSuccess resets the backoff to the baseline.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.backoff = BaselineBackoff
	l.mu.Unlock()
}

// RecordThrottle doubles the backoff up to the ceiling and returns the new
// value. rateLimited counts the event as a 429 hit.
func (l *Limiter) RecordThrottle(rateLimited bool) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rateLimited {
		l.hits++
	}
	l.backoff *= 2
	if l.backoff > l.max {
		l.backoff = l.max
	}
	return l.backoff
}
