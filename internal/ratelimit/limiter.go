package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/cache"
)

// Limiter checks and records per-user consumption. Redis being down fails
// open: an unavailable counter store must not take the API down with it.
type Limiter struct {
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Limiter on the shared Redis cache.
func New(c cache.Cache, logger *slog.Logger) *Limiter {
	return &Limiter{cache: c, logger: logger, now: time.Now}
}

// Check walks minute, hour, day and returns a Denial for the first window
// where current + cost would cross the plan ceiling. A nil Denial means the
// request may proceed. Check reads counters without consuming; call Record
// after the request is accepted.
func (l *Limiter) Check(ctx context.Context, userID uuid.UUID, plan, metric string, cost int64) (*Denial, error) {
	limit := LimitsFor(plan).forMetric(metric)
	ts := l.now()

	for _, w := range windows {
		max := limit.forWindow(w.name)
		if max <= 0 {
			continue
		}

		current, err := l.cache.GetCount(ctx, cache.RateLimitKey(userID, metric, w.name, ts))
		if err != nil {
			l.logger.Warn("rate limit check failed, allowing request",
				"user_id", userID, "metric", metric, "window", w.name, "error", err)
			continue
		}

		if current+cost > max {
			remaining := max - current
			if remaining < 0 {
				remaining = 0
			}
			windowStart := ts.UTC().Truncate(w.length)
			return &Denial{
				Metric:     metric,
				Window:     w.name,
				Current:    current,
				Max:        max,
				Remaining:  remaining,
				RetryAfter: windowStart.Add(w.length).Sub(ts.UTC()),
			}, nil
		}
	}
	return nil, nil
}

// Record adds cost to the metric's counters in all three windows. Each key
// lives twice its window length so expiry never races the window boundary.
func (l *Limiter) Record(ctx context.Context, userID uuid.UUID, metric string, cost int64) {
	ts := l.now()
	for _, w := range windows {
		key := cache.RateLimitKey(userID, metric, w.name, ts)
		if _, err := l.cache.IncrByWithExpiry(ctx, key, cost, 2*w.length); err != nil {
			l.logger.Warn("rate limit record failed",
				"user_id", userID, "metric", metric, "window", w.name, "error", err)
		}
	}
}

// Usage returns the current consumption across both metrics and all windows
// for the user's plan.
func (l *Limiter) Usage(ctx context.Context, userID uuid.UUID, plan string) Usage {
	limits := LimitsFor(plan)
	ts := l.now()
	usage := make(Usage, 2)

	for _, metric := range []string{MetricRequests, MetricCredits} {
		limit := limits.forMetric(metric)
		for _, w := range windows {
			max := limit.forWindow(w.name)
			if max <= 0 {
				continue
			}
			current, err := l.cache.GetCount(ctx, cache.RateLimitKey(userID, metric, w.name, ts))
			if err != nil {
				l.logger.Warn("rate limit usage read failed",
					"user_id", userID, "metric", metric, "window", w.name, "error", err)
				current = 0
			}
			remaining := max - current
			if remaining < 0 {
				remaining = 0
			}
			usage[metric] = append(usage[metric], WindowUsage{
				Window:    w.name,
				Current:   current,
				Max:       max,
				Remaining: remaining,
			})
		}
	}
	return usage
}
