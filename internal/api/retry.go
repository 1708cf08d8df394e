package api

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryPolicy computes backoff delays and bounds the number of attempts.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	ExponentialFactor float64
	Jitter            float64 // fraction of the delay, 0.1 means ±10%

	// rand returns a float in [0,1); nil uses math/rand/v2.
	rand func() float64
}

// DefaultRetryPolicy mirrors the upstream API's documented retry guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		ExponentialFactor: 2.0,
		Jitter:            0.1,
	}
}

// Backoff returns the delay before the retry that follows the given 0-indexed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.ExponentialFactor, float64(attempt))
	spread := delay * p.Jitter

	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	d := delay + (r()*2-1)*spread
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// IsRetryableStatus reports whether an HTTP status may succeed on retry.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
