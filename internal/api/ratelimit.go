package api

import (
	"sync"
	"time"
)

// DefaultWindow is the key of the window used for endpoints that have not
// reported rate information yet.
const DefaultWindow = "default"

// RateWindow is the quota state an endpoint last reported.
type RateWindow struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter tracks per-endpoint quota windows. It is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]RateWindow
	now     func() time.Time
}

// NewRateLimiter creates a limiter whose default window allows qps requests.
func NewRateLimiter(qps int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		windows: map[string]RateWindow{
			DefaultWindow: {Limit: qps, Remaining: qps, ResetAt: now().Add(time.Second)},
		},
		now: now,
	}
}

// Check reports whether a request to endpoint may be issued now. When it may
// not, wait is the time left until the window resets.
func (l *RateLimiter) Check(endpoint string) (allowed bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[endpoint]
	if !ok {
		w = l.windows[DefaultWindow]
	}

	now := l.now()
	if w.Remaining <= 0 && now.Before(w.ResetAt) {
		return false, w.ResetAt.Sub(now)
	}
	return true, 0
}

// Update replaces the endpoint's window with the state reported by the API.
// A non-positive limit means the response carried no rate information and is ignored.
func (l *RateLimiter) Update(endpoint string, limit, remaining int, resetAt time.Time) {
	if limit <= 0 {
		return
	}
	l.mu.Lock()
	l.windows[endpoint] = RateWindow{Limit: limit, Remaining: remaining, ResetAt: resetAt}
	l.mu.Unlock()
}

// Block marks the endpoint as exhausted until the given time.
func (l *RateLimiter) Block(endpoint string, until time.Time) {
	l.mu.Lock()
	w := l.windows[endpoint]
	w.Remaining = 0
	w.ResetAt = until
	l.windows[endpoint] = w
	l.mu.Unlock()
}

// Window returns a copy of the endpoint's recorded window.
func (l *RateLimiter) Window(endpoint string) (RateWindow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[endpoint]
	return w, ok
}
