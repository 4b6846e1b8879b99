package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskQueueKey is the Redis list backing the worker task queue.
const TaskQueueKey = "queue:tasks"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitKey identifies one (user, metric, window) counter for the window
// bucket containing ts. Window starts are aligned to the window length so
// every process computes the same key for the same instant.
func RateLimitKey(userID uuid.UUID, metric, window string, ts time.Time) string {
	windowStart := ts.UTC().Truncate(windowLength(window)).Unix()
	return fmt.Sprintf("ratelimit:%s:%s:%s:%d", userID, metric, window, windowStart)
}

func windowLength(window string) time.Duration {
	switch window {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
