package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job kinds. Single-channel kinds operate on one record; batch kinds walk
// every unprocessed channel up to a caller-supplied limit.
const (
	JobTypeMigration      = "migration"
	JobTypeMetadata       = "channel_metadata"
	JobTypeVideos         = "channel_videos"
	JobTypeDiscovery      = "channel_discovery"
	JobTypeBatchMetadata  = "batch_metadata"
	JobTypeBatchVideos    = "batch_videos"
	JobTypeBatchDiscovery = "batch_discovery"
)

// ValidJobTypes lists every kind the worker knows how to dispatch.
var ValidJobTypes = map[string]bool{
	JobTypeMigration:      true,
	JobTypeMetadata:       true,
	JobTypeVideos:         true,
	JobTypeDiscovery:      true,
	JobTypeBatchMetadata:  true,
	JobTypeBatchVideos:    true,
	JobTypeBatchDiscovery: true,
}

// Job tracks one long-running unit of processing work. The API returns a
// job id on submission; clients poll GET /api/v1/jobs/{id} until status is
// completed or failed. TotalItems is nil until the worker has counted the
// job's item set.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	UserID         uuid.UUID  `db:"user_id"         json:"user_id"`
	JobType        string     `db:"job_type"        json:"job_type"`
	Status         string     `db:"status"          json:"status"`
	ChannelID      *uuid.UUID `db:"channel_id"      json:"channel_id,omitempty"`
	TotalItems     *int       `db:"total_items"     json:"total_items,omitempty"`
	ProcessedItems int        `db:"processed_items" json:"processed_items"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	StartedAt      *time.Time `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
}

// NewJob returns a pending job owned by userID.
func NewJob(userID uuid.UUID, jobType string) *Job {
	return &Job{
		ID:        uuid.New(),
		UserID:    userID,
		JobType:   jobType,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Start moves the job from pending to running and stamps StartedAt once.
// The task queue guarantees a single worker owns the running phase; the
// model itself does no locking.
func (j *Job) Start() error {
	if j.Status != JobStatusPending {
		return fmt.Errorf("invalid job status transition: %s -> %s", j.Status, JobStatusRunning)
	}
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	return nil
}

// SetTotal records the counted item set size. Allowed only while running.
func (j *Job) SetTotal(total int) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("cannot set total on %s job", j.Status)
	}
	j.TotalItems = &total
	return nil
}

// UpdateProgress sets the processed counter. Progress is monotonic: retried
// chunks may report stale counts, which are clamped to the max seen so far,
// and the counter never exceeds TotalItems once that is known.
func (j *Job) UpdateProgress(processed int) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("cannot update progress on %s job", j.Status)
	}
	if processed < j.ProcessedItems {
		return nil
	}
	if j.TotalItems != nil && processed > *j.TotalItems {
		processed = *j.TotalItems
	}
	j.ProcessedItems = processed
	return nil
}

// Complete moves the job from running to completed and stamps CompletedAt.
func (j *Job) Complete() error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("invalid job status transition: %s -> %s", j.Status, JobStatusCompleted)
	}
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	return nil
}

// Fail moves the job from running to failed, recording the reason.
func (j *Job) Fail(reason string) error {
	if j.Status != JobStatusRunning {
		return fmt.Errorf("invalid job status transition: %s -> %s", j.Status, JobStatusFailed)
	}
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.ErrorMessage = &reason
	j.CompletedAt = &now
	return nil
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
