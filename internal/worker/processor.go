package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/channelintel/channelintel/internal/cache"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// ItemFunc processes one channel within a batch job. A returned error skips
// the item; the batch keeps going.
type ItemFunc func(ctx context.Context, ch *models.Channel) error

// Processor drives batch jobs: it selects unprocessed channels, walks them
// in chunks, and commits progress after every chunk so a crashed run can be
// resumed from its last committed state.
type Processor struct {
	store  store.Store
	cache  cache.Cache
	logger *slog.Logger

	chunkSize int
	minDelay  time.Duration
	maxDelay  time.Duration
}

// NewProcessor creates a batch Processor.
func NewProcessor(s store.Store, c cache.Cache, logger *slog.Logger, chunkSize int, minDelay, maxDelay time.Duration) *Processor {
	return &Processor{
		store:     s,
		cache:     c,
		logger:    logger,
		chunkSize: chunkSize,
		minDelay:  minDelay,
		maxDelay:  maxDelay,
	}
}

// Run executes one batch job. The item set is the channels matching sel
// (optionally scoped to externalIDs), capped at itemLimit. Item failures are
// logged and skipped; the chunk still advances. Progress lands in the job
// row after each chunk, and the job finishes completed unless the selection
// itself fails.
func (p *Processor) Run(ctx context.Context, job *models.Job, sel store.ChannelSelector, externalIDs []string, itemLimit int, fn ItemFunc) error {
	switch job.Status {
	case models.JobStatusPending:
		if err := job.Start(); err != nil {
			return err
		}
		if err := p.commit(ctx, job); err != nil {
			return err
		}
	case models.JobStatusRunning:
		// Redelivered after a crash; resume from committed progress.
		p.logger.Info("resuming batch job", "job_id", job.ID, "processed", job.ProcessedItems)
	default:
		p.logger.Warn("skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	count, err := p.store.CountUnprocessed(ctx, sel, externalIDs)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("count items: %w", err))
	}

	total := count
	if itemLimit > 0 && itemLimit < total {
		total = itemLimit
	}
	if job.TotalItems == nil {
		if err := job.SetTotal(total); err != nil {
			return err
		}
		if err := p.commit(ctx, job); err != nil {
			return err
		}
	} else {
		total = *job.TotalItems
	}

	// One chunk is fetched per iteration rather than the whole item set up
	// front: completed items have their flags flipped, so re-selecting
	// returns the unfinished remainder and memory stays bounded at one
	// chunk regardless of job size.
	for job.ProcessedItems < total {
		want := total - job.ProcessedItems
		if want > p.chunkSize {
			want = p.chunkSize
		}

		chunk, err := p.store.ListUnprocessed(ctx, sel, externalIDs, want)
		if err != nil {
			return p.fail(ctx, job, fmt.Errorf("list items: %w", err))
		}
		if len(chunk) == 0 {
			break
		}

		p.runChunk(ctx, job, chunk, fn)

		if err := job.UpdateProgress(job.ProcessedItems + len(chunk)); err != nil {
			return err
		}
		if err := p.commit(ctx, job); err != nil {
			return err
		}

		if job.ProcessedItems < total {
			p.sleep(ctx)
		}
	}

	if err := job.Complete(); err != nil {
		return err
	}
	if err := p.commit(ctx, job); err != nil {
		return err
	}
	p.logger.Info("batch job completed",
		"job_id", job.ID, "job_type", job.JobType, "processed", job.ProcessedItems)
	return nil
}

// runChunk processes one chunk. A panicking chunk is logged and abandoned;
// the caller still advances progress past it so a poison chunk cannot wedge
// the job.
func (p *Processor) runChunk(ctx context.Context, job *models.Job, chunk []*models.Channel, fn ItemFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing chunk", "job_id", job.ID, "error", r)
		}
	}()

	for _, ch := range chunk {
		if err := fn(ctx, ch); err != nil {
			p.logger.Error("item processing failed",
				"job_id", job.ID, "channel_id", ch.ChannelID, "error", err)
		}
	}
}

// fail marks the job failed with the given reason, preserving progress.
func (p *Processor) fail(ctx context.Context, job *models.Job, cause error) error {
	p.logger.Error("batch job failed", "job_id", job.ID, "error", cause)
	if err := job.Fail(cause.Error()); err != nil {
		return err
	}
	if err := p.commit(ctx, job); err != nil {
		return err
	}
	return cause
}

// commit persists the job row and mirrors its status for cheap polling.
func (p *Processor) commit(ctx context.Context, job *models.Job) error {
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	_ = p.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
	return nil
}

// sleep pauses between chunks for a random interval inside the configured
// bounds, returning early if ctx is done.
func (p *Processor) sleep(ctx context.Context) {
	delay := p.minDelay
	if p.maxDelay > p.minDelay {
		delay += time.Duration(rand.Int63n(int64(p.maxDelay - p.minDelay)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
