// Package worker consumes tasks from the queue and executes the processing
// jobs behind them: metadata enrichment, video ingestion, channel discovery,
// and migrations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/cache"
	"github.com/channelintel/channelintel/internal/discovery"
	"github.com/channelintel/channelintel/internal/extcall"
	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/internal/youtube"
	"github.com/channelintel/channelintel/pkg/models"
)

const defaultVideosPerChannel = 50

// Worker is the task consumer. Each dequeued task is handled to completion
// (or failure) before the next dequeue; run several Worker processes to
// scale out.
type Worker struct {
	store     store.Store
	cache     cache.Cache
	queue     *queue.Queue
	processor *Processor
	executor  *extcall.Executor
	youtube   *youtube.Client
	discovery *discovery.Engine
	migrator  *Migrator
	logger    *slog.Logger

	pollTimeout  time.Duration
	defaultLimit int
}

// New creates a Worker.
func New(s store.Store, c cache.Cache, q *queue.Queue, p *Processor, ex *extcall.Executor,
	yt *youtube.Client, eng *discovery.Engine, m *Migrator, logger *slog.Logger,
	pollTimeout time.Duration, defaultLimit int) *Worker {
	return &Worker{
		store:        s,
		cache:        c,
		queue:        q,
		processor:    p,
		executor:     ex,
		youtube:      yt,
		discovery:    eng,
		migrator:     m,
		logger:       logger,
		pollTimeout:  pollTimeout,
		defaultLimit: defaultLimit,
	}
}

// Run consumes tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_timeout", w.pollTimeout)
	for {
		task, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return nil
			}
			w.logger.Error("dequeue failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if !ok {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return nil
			}
			continue
		}
		w.handle(ctx, task)
	}
}

// handle runs one task. Panics are contained here: the job is marked failed
// and the loop keeps consuming.
func (w *Worker) handle(ctx context.Context, task queue.Task) {
	job, err := w.store.GetJob(ctx, task.JobID)
	if err != nil {
		w.logger.Error("job lookup failed", "job_id", task.JobID, "error", err)
		return
	}
	if job.Terminal() {
		w.logger.Warn("dropping task for terminal job", "job_id", job.ID, "status", job.Status)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic handling task", "job_id", job.ID, "job_type", job.JobType, "error", r)
			if job.Status == models.JobStatusRunning {
				if err := job.Fail(fmt.Sprintf("panic: %v", r)); err == nil {
					_ = w.store.UpdateJob(ctx, job)
					_ = w.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
				}
			}
		}
	}()

	w.logger.Info("handling task", "job_id", job.ID, "job_type", job.JobType)

	limit := task.Params.Limit
	if limit <= 0 {
		limit = w.defaultLimit
	}

	switch job.JobType {
	case models.JobTypeMetadata:
		err = w.runSingle(ctx, job, task, w.fetchMetadata)
	case models.JobTypeVideos:
		err = w.runSingle(ctx, job, task, w.videosFunc(task.Params.VideosPerChannel))
	case models.JobTypeDiscovery:
		err = w.runSingle(ctx, job, task, w.discoveryFunc(task.Params.Methods))
	case models.JobTypeBatchMetadata:
		err = w.processor.Run(ctx, job, store.SelectLackingMetadata, task.Params.ChannelIDs, limit, w.fetchMetadata)
	case models.JobTypeBatchVideos:
		err = w.processor.Run(ctx, job, store.SelectLackingVideos, task.Params.ChannelIDs, limit, w.videosFunc(task.Params.VideosPerChannel))
	case models.JobTypeBatchDiscovery:
		err = w.processor.Run(ctx, job, store.SelectUndiscovered, task.Params.ChannelIDs, limit, w.discoveryFunc(task.Params.Methods))
	case models.JobTypeMigration:
		err = w.migrator.Run(ctx, job, task.Params)
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
		if failErr := job.Start(); failErr == nil {
			_ = job.Fail(err.Error())
			_ = w.store.UpdateJob(ctx, job)
		}
	}
	if err != nil {
		w.logger.Error("task failed", "job_id", job.ID, "job_type", job.JobType, "error", err)
	}
}

// runSingle executes a one-channel job through the same lifecycle as a
// batch: start, process, progress, finalize. A redelivered running job is
// replayed; the item funcs overwrite rather than append, so that is safe.
func (w *Worker) runSingle(ctx context.Context, job *models.Job, task queue.Task, fn ItemFunc) error {
	switch job.Status {
	case models.JobStatusPending:
		if err := job.Start(); err != nil {
			return err
		}
	case models.JobStatusRunning:
		w.logger.Info("resuming job", "job_id", job.ID, "job_type", job.JobType)
	default:
		w.logger.Warn("skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}
	if err := job.SetTotal(1); err != nil {
		return err
	}
	if err := w.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)

	ch, err := w.resolveChannel(ctx, job, task)
	if err != nil {
		if failErr := job.Fail(err.Error()); failErr != nil {
			return failErr
		}
		_ = w.store.UpdateJob(ctx, job)
		_ = w.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
		return err
	}

	if err := fn(ctx, ch); err != nil {
		if failErr := job.Fail(err.Error()); failErr != nil {
			return failErr
		}
		_ = w.store.UpdateJob(ctx, job)
		_ = w.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
		return err
	}

	if err := job.UpdateProgress(1); err != nil {
		return err
	}
	if err := job.Complete(); err != nil {
		return err
	}
	if err := w.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
	return nil
}

// resolveChannel finds the target channel for a single-channel job from the
// job row or the task params.
func (w *Worker) resolveChannel(ctx context.Context, job *models.Job, task queue.Task) (*models.Channel, error) {
	if job.ChannelID != nil {
		return w.store.GetChannel(ctx, *job.ChannelID)
	}
	if len(task.Params.ChannelIDs) > 0 {
		return w.store.GetChannelByExternalID(ctx, task.Params.ChannelIDs[0])
	}
	return nil, errors.New("job has no target channel")
}

// fetchMetadata pulls a channel's metadata from the Data API and persists
// it, flipping metadata_fetched.
func (w *Worker) fetchMetadata(ctx context.Context, ch *models.Channel) error {
	var data *youtube.ChannelData
	err := w.executor.Execute(ctx, func(ctx context.Context, secret string) extcall.Outcome {
		var out extcall.Outcome
		data, out = w.youtube.FetchChannel(ctx, secret, ch.ChannelID)
		return out
	})
	if err != nil {
		return fmt.Errorf("fetch channel metadata: %w", err)
	}

	applyChannelData(ch, data)
	if err := w.store.UpdateChannelMetadata(ctx, ch); err != nil {
		return fmt.Errorf("persist channel metadata: %w", err)
	}
	return nil
}

// videosFunc returns an ItemFunc that ingests up to perChannel of a
// channel's latest uploads.
func (w *Worker) videosFunc(perChannel int) ItemFunc {
	if perChannel <= 0 {
		perChannel = defaultVideosPerChannel
	}
	return func(ctx context.Context, ch *models.Channel) error {
		var videoIDs []string
		err := w.executor.Execute(ctx, func(ctx context.Context, secret string) extcall.Outcome {
			var out extcall.Outcome
			videoIDs, out = w.youtube.ListUploads(ctx, secret, ch.ChannelID, perChannel)
			return out
		})
		if err != nil {
			return fmt.Errorf("list uploads: %w", err)
		}

		if len(videoIDs) > 0 {
			var details []*youtube.VideoData
			err = w.executor.Execute(ctx, func(ctx context.Context, secret string) extcall.Outcome {
				var out extcall.Outcome
				details, out = w.youtube.FetchVideoDetails(ctx, secret, videoIDs)
				return out
			})
			if err != nil {
				return fmt.Errorf("fetch video details: %w", err)
			}

			for _, v := range details {
				if _, err := w.store.UpsertVideo(ctx, buildVideo(ch, v)); err != nil {
					w.logger.Error("video upsert failed",
						"channel_id", ch.ChannelID, "video_id", v.VideoID, "error", err)
				}
			}
		}

		if err := w.store.MarkVideosFetched(ctx, ch.ID); err != nil {
			return fmt.Errorf("mark videos fetched: %w", err)
		}
		return nil
	}
}

// discoveryFunc returns an ItemFunc that runs the discovery engine over a
// channel and flips discovery_processed.
func (w *Worker) discoveryFunc(methods []string) ItemFunc {
	return func(ctx context.Context, ch *models.Channel) error {
		result, err := w.discovery.Discover(ctx, ch, methods)
		if err != nil {
			return fmt.Errorf("run discovery: %w", err)
		}
		w.logger.Info("discovery finished", "channel_id", ch.ChannelID,
			"candidates", result.Candidates, "new_edges", result.NewEdges, "new_channels", result.NewChannels)

		if err := w.store.MarkDiscoveryProcessed(ctx, ch.ID); err != nil {
			return fmt.Errorf("mark discovery processed: %w", err)
		}
		return nil
	}
}

// applyChannelData merges fetched metadata into the channel record.
func applyChannelData(ch *models.Channel, data *youtube.ChannelData) {
	ch.Title = data.Title
	ch.Description = data.Description
	ch.SubscriberCount = data.SubscriberCount
	ch.VideoCount = data.VideoCount
	ch.ViewCount = data.ViewCount
	ch.PublishedAt = data.PublishedAt
	ch.Keywords = data.Keywords
	ch.TopicCategories = data.TopicCategories
	ch.Country = optString(data.Country)
	ch.CustomURL = optString(data.CustomURL)
	ch.ThumbnailURL = optString(data.ThumbnailURL)
	ch.BannerURL = optString(data.BannerURL)
}

func buildVideo(ch *models.Channel, v *youtube.VideoData) *models.Video {
	now := time.Now().UTC()
	return &models.Video{
		ID:                uuid.New(),
		VideoID:           v.VideoID,
		ChannelID:         ch.ID,
		ChannelExternalID: ch.ChannelID,
		Title:             v.Title,
		Description:       v.Description,
		PublishedAt:       v.PublishedAt,
		Duration:          optString(v.Duration),
		ViewCount:         v.ViewCount,
		LikeCount:         v.LikeCount,
		CommentCount:      v.CommentCount,
		ThumbnailURL:      optString(v.ThumbnailURL),
		Tags:              v.Tags,
		CategoryID:        v.CategoryID,
		Language:          optString(v.Language),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
