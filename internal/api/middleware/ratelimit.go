package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/channelintel/channelintel/internal/api/response"
	"github.com/channelintel/channelintel/internal/ratelimit"
)

// RateLimit enforces the per-plan request ceilings. Credit ceilings are
// checked by the job submission handler, where the operation cost is known.
type RateLimit struct {
	limiter *ratelimit.Limiter
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(l *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: l}
}

// Limit checks the request counters for the authenticated user and records
// the request when allowed. Unauthenticated requests pass through; the auth
// middleware in front of this one rejects those.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		denial, err := rl.limiter.Check(r.Context(), user.ID, user.Plan, ratelimit.MetricRequests, 1)
		if err == nil && denial != nil {
			WriteDenial(w, denial)
			return
		}

		rl.limiter.Record(r.Context(), user.ID, ratelimit.MetricRequests, 1)
		next.ServeHTTP(w, r)
	})
}

// WriteDenial writes the 429 response for a rate-limit denial, including the
// standard X-RateLimit-* and Retry-After headers.
func WriteDenial(w http.ResponseWriter, d *ratelimit.Denial) {
	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Max, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	response.Error(w, http.StatusTooManyRequests,
		"RATE_LIMIT_EXCEEDED", d.Error(), map[string]any{
			"metric":              d.Metric,
			"window":              d.Window,
			"current":             d.Current,
			"max":                 d.Max,
			"remaining":           d.Remaining,
			"retry_after_seconds": retryAfter,
		})
}
