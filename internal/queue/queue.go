// Package queue provides the durable task queue connecting the API server to
// worker processes. Tasks are JSON payloads on a Redis list: LPUSH on
// enqueue, BRPOP on dequeue, so each task is delivered to exactly one worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/cache"
)

// Task is one unit of work referencing a persisted job. Params carry
// kind-specific options (channel ids, limits, source paths); the job record
// itself holds progress and terminal state.
type Task struct {
	JobID      uuid.UUID `json:"job_id"`
	Kind       string    `json:"kind"`
	Params     Params    `json:"params"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Params are the kind-specific task options.
type Params struct {
	ChannelIDs       []string `json:"channel_ids,omitempty"`
	Limit            int      `json:"limit,omitempty"`
	VideosPerChannel int      `json:"videos_per_channel,omitempty"`
	Methods          []string `json:"methods,omitempty"`
	SourceType       string   `json:"source_type,omitempty"`
	SourcePath       string   `json:"source_path,omitempty"`
}

// Queue enqueues and dequeues tasks. Delivery is at-least-once: a worker
// crash after dequeue loses the in-flight task, and resubmission resumes the
// job from its last committed chunk.
type Queue struct {
	cache cache.Cache
}

// New creates a Queue on top of the shared Redis cache.
func New(c cache.Cache) *Queue {
	return &Queue{cache: c}
}

// Enqueue pushes a task onto the queue.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.cache.LPush(ctx, cache.TaskQueueKey, payload); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. The bool is false when the
// wait expired with no work available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Task, bool, error) {
	payload, ok, err := q.cache.BRPop(ctx, timeout, cache.TaskQueueKey)
	if err != nil {
		return Task{}, false, fmt.Errorf("dequeue task: %w", err)
	}
	if !ok {
		return Task{}, false, nil
	}

	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, true, nil
}
