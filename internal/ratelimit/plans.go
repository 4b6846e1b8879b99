// Package ratelimit enforces per-user request and credit ceilings over
// minute, hour, and day windows. Counters live in Redis keyed by aligned
// window start, so every API and worker process sees the same buckets.
package ratelimit

import (
	"fmt"
	"time"
)

// Metrics tracked per user.
const (
	MetricRequests = "requests"
	MetricCredits  = "credits"
)

// Window names, in checking order.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Limit holds one metric's ceilings per window. Zero means unlimited for
// that window.
type Limit struct {
	Minute int64
	Hour   int64
	Day    int64
}

func (l Limit) forWindow(window string) int64 {
	switch window {
	case WindowMinute:
		return l.Minute
	case WindowHour:
		return l.Hour
	case WindowDay:
		return l.Day
	default:
		return 0
	}
}

// PlanLimits holds both metrics' ceilings for one plan tier.
type PlanLimits struct {
	Requests Limit
	Credits  Limit
}

// planTable maps plan tiers to their ceilings. Credits have no per-minute
// ceiling on any tier.
var planTable = map[string]PlanLimits{
	"free": {
		Requests: Limit{Minute: 10, Hour: 100, Day: 500},
		Credits:  Limit{Hour: 50, Day: 100},
	},
	"starter": {
		Requests: Limit{Minute: 30, Hour: 500, Day: 2000},
		Credits:  Limit{Hour: 200, Day: 500},
	},
	"professional": {
		Requests: Limit{Minute: 60, Hour: 1000, Day: 5000},
		Credits:  Limit{Hour: 500, Day: 2000},
	},
	"business": {
		Requests: Limit{Minute: 120, Hour: 2000, Day: 10000},
		Credits:  Limit{Hour: 1000, Day: 5000},
	},
	"enterprise": {
		Requests: Limit{Minute: 300, Hour: 5000, Day: 25000},
		Credits:  Limit{Hour: 2500, Day: 10000},
	},
}

// LimitsFor returns the ceilings for a plan, falling back to free tier for
// unknown plans.
func LimitsFor(plan string) PlanLimits {
	if limits, ok := planTable[plan]; ok {
		return limits
	}
	return planTable["free"]
}

func (p PlanLimits) forMetric(metric string) Limit {
	if metric == MetricCredits {
		return p.Credits
	}
	return p.Requests
}

// Denial describes which window rejected a request.
type Denial struct {
	Metric     string        `json:"metric"`
	Window     string        `json:"window"`
	Current    int64         `json:"current"`
	Max        int64         `json:"max"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"-"`
}

func (d *Denial) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d %s per %s", d.Current, d.Max, d.Metric, d.Window)
}

// WindowUsage is one window's consumption snapshot.
type WindowUsage struct {
	Window    string `json:"window"`
	Current   int64  `json:"current"`
	Max       int64  `json:"max"`
	Remaining int64  `json:"remaining"`
}

// Usage maps metric name to its per-window consumption.
type Usage map[string][]WindowUsage

var windows = []struct {
	name   string
	length time.Duration
}{
	{WindowMinute, time.Minute},
	{WindowHour, time.Hour},
	{WindowDay, 24 * time.Hour},
}
