package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/api/response"
	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/discovery"
	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/ratelimit"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/internal/worker"
	"github.com/channelintel/channelintel/pkg/models"
)

// CreditLedger is the slice of the credit ledger the handlers depend on.
type CreditLedger interface {
	Charge(ctx context.Context, userID uuid.UUID, amount int, description, endpoint string) error
	Grant(ctx context.Context, userID uuid.UUID, amount int, txType, description string, paymentRef *string) error
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	History(ctx context.Context, userID uuid.UUID, page, limit int) ([]*models.CreditTransaction, int, error)
}

// RateLimiter is the slice of the rate limiter the handlers depend on.
type RateLimiter interface {
	Check(ctx context.Context, userID uuid.UUID, plan, metric string, cost int64) (*ratelimit.Denial, error)
	Record(ctx context.Context, userID uuid.UUID, metric string, cost int64)
	Usage(ctx context.Context, userID uuid.UUID, plan string) ratelimit.Usage
}

// TaskQueue enqueues work for the background workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// jobKinds maps the URL slug of POST /api/v1/jobs/{kind} to the job type.
var jobKinds = map[string]string{
	"metadata":        models.JobTypeMetadata,
	"videos":          models.JobTypeVideos,
	"discovery":       models.JobTypeDiscovery,
	"batch-metadata":  models.JobTypeBatchMetadata,
	"batch-videos":    models.JobTypeBatchVideos,
	"batch-discovery": models.JobTypeBatchDiscovery,
	"migrate":         models.JobTypeMigration,
}

func singleKind(jobType string) bool {
	switch jobType {
	case models.JobTypeMetadata, models.JobTypeVideos, models.JobTypeDiscovery:
		return true
	}
	return false
}

type submitJobRequest struct {
	ChannelID        string   `json:"channel_id"`
	ChannelIDs       []string `json:"channel_ids"`
	Limit            int      `json:"limit"`
	VideosPerChannel int      `json:"videos_per_channel"`
	Methods          []string `json:"methods"`
	SourceType       string   `json:"source_type"`
	SourcePath       string   `json:"source_path"`
}

// NewSubmitJobHandler returns the handler for POST /api/v1/jobs/{kind}.
// Submission is gated in order: credit rate-limit check, credit charge, job
// row, enqueue, then usage recording. A charge whose job never reaches the
// queue is refunded. The request counter is handled by the rate-limit
// middleware.
func NewSubmitJobHandler(s store.Store, ledger CreditLedger, limiter RateLimiter, q TaskQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobType, ok := jobKinds[path.Base(r.URL.Path)]
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown job kind", nil)
			return
		}

		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := validateSubmit(jobType, &req); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		job := models.NewJob(user.ID, jobType)
		if singleKind(jobType) {
			ch, err := s.GetChannelByExternalID(r.Context(), req.ChannelID)
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Channel not found", nil)
				return
			}
			if err != nil {
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "Failed to resolve channel", nil)
				return
			}
			job.ChannelID = &ch.ID
		}

		cost := models.CreditCost(jobType)
		denial, err := limiter.Check(r.Context(), user.ID, user.Plan, ratelimit.MetricCredits, int64(cost))
		if err == nil && denial != nil {
			mw.WriteDenial(w, denial)
			return
		}

		err = ledger.Charge(r.Context(), user.ID, cost, "Job submission: "+jobType, r.URL.Path)
		if err != nil {
			var insufficient *credits.InsufficientCreditsError
			if errors.As(err, &insufficient) {
				response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
					"Not enough credits for this operation", map[string]any{
						"need": insufficient.Need,
						"have": insufficient.Have,
					})
				return
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to charge credits", nil)
			return
		}

		if err := s.CreateJob(r.Context(), job); err != nil {
			refundCharge(r.Context(), ledger, user.ID, cost, jobType)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to create job", nil)
			return
		}

		task := queue.Task{
			JobID: job.ID,
			Kind:  jobType,
			Params: queue.Params{
				ChannelIDs:       req.ChannelIDs,
				Limit:            req.Limit,
				VideosPerChannel: req.VideosPerChannel,
				Methods:          req.Methods,
				SourceType:       req.SourceType,
				SourcePath:       req.SourcePath,
			},
		}
		if singleKind(jobType) && len(task.Params.ChannelIDs) == 0 {
			task.Params.ChannelIDs = []string{req.ChannelID}
		}
		if err := q.Enqueue(r.Context(), task); err != nil {
			refundCharge(r.Context(), ledger, user.ID, cost, jobType)
			// The row already exists; fail it so it cannot sit pending with
			// no task behind it.
			if job.Start() == nil && job.Fail("job could not be queued") == nil {
				_ = s.UpdateJob(r.Context(), job)
			}
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to enqueue job", nil)
			return
		}

		limiter.Record(r.Context(), user.ID, ratelimit.MetricCredits, int64(cost))

		response.Accepted(w, map[string]any{
			"job_id":          job.ID,
			"job_type":        job.JobType,
			"status":          job.Status,
			"credits_charged": cost,
		})
	}
}

// refundCharge returns the credits taken for a submission whose job never
// reached the queue. The refund itself failing leaves the charge visible in
// the ledger history, so it is logged rather than surfaced.
func refundCharge(ctx context.Context, ledger CreditLedger, userID uuid.UUID, cost int, jobType string) {
	err := ledger.Grant(ctx, userID, cost, models.TransactionRefund,
		"Refund: "+jobType+" submission failed", nil)
	if err != nil {
		slog.Error("credit refund failed",
			"user_id", userID, "amount", cost, "job_type", jobType, "error", err)
	}
}

// validateSubmit returns an error message for invalid requests, or "".
func validateSubmit(jobType string, req *submitJobRequest) string {
	if singleKind(jobType) && req.ChannelID == "" {
		return "channel_id is required"
	}
	if jobType == models.JobTypeMigration {
		if req.SourceType != worker.SourceTypeCSV && req.SourceType != worker.SourceTypeJSON {
			return "source_type must be csv or json"
		}
		if req.SourcePath == "" {
			return "source_path is required"
		}
	}
	for _, method := range req.Methods {
		if !discovery.ValidMethods[method] {
			return "unknown discovery method: " + method
		}
	}
	return ""
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs, scoped to the
// authenticated user.
func NewListJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		page, limit := pagination(r)
		jobs, total, err := s.ListJobs(r.Context(), store.JobFilter{
			UserID: user.ID,
			Status: r.URL.Query().Get("status"),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.Collection(w, jobs, response.NewMeta(page, limit, total))
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}. Jobs
// are visible only to their owner.
func NewGetJobHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		if job.UserID != user.ID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		response.JSON(w, job)
	}
}
