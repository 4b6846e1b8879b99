package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/internal/worker"
	"github.com/channelintel/channelintel/pkg/models"
)

// fakeStore holds channels in slice order and applies selectors the way the
// real store does.
type fakeStore struct {
	store.Store
	channels    []*models.Channel
	jobs        map[uuid.UUID]*models.Job
	commits     []int // ProcessedItems at each UpdateJob call
	listLimits  []int // limit passed to each ListUnprocessed call
	listErr     error
	countErr    error
	updateCalls int
}

func newFakeStore(channels ...*models.Channel) *fakeStore {
	return &fakeStore{channels: channels, jobs: make(map[uuid.UUID]*models.Job)}
}

func matches(ch *models.Channel, sel store.ChannelSelector) bool {
	switch sel {
	case store.SelectLackingMetadata:
		return !ch.MetadataFetched
	case store.SelectLackingVideos:
		return ch.MetadataFetched && !ch.VideosFetched
	case store.SelectUndiscovered:
		return !ch.DiscoveryProcessed
	}
	return false
}

func inScope(ch *models.Channel, externalIDs []string) bool {
	if len(externalIDs) == 0 {
		return true
	}
	for _, id := range externalIDs {
		if ch.ChannelID == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) CountUnprocessed(_ context.Context, sel store.ChannelSelector, externalIDs []string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, ch := range f.channels {
		if matches(ch, sel) && inScope(ch, externalIDs) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListUnprocessed(_ context.Context, sel store.ChannelSelector, externalIDs []string, limit int) ([]*models.Channel, error) {
	f.listLimits = append(f.listLimits, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.Channel
	for _, ch := range f.channels {
		if matches(ch, sel) && inScope(ch, externalIDs) {
			out = append(out, ch)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, job *models.Job) error {
	f.updateCalls++
	f.commits = append(f.commits, job.ProcessedItems)
	snapshot := *job
	f.jobs[job.ID] = &snapshot
	return nil
}

// nopCache satisfies the job-status mirror without Redis.
type nopCache struct{}

func (nopCache) Ping(context.Context) error { return nil }
func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Delete(context.Context, string) error { return nil }
func (nopCache) LPush(context.Context, string, []byte) error { return nil }
func (nopCache) GetCount(context.Context, string) (int64, error) { return 0, nil }
func (nopCache) IncrByWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, nil
}
func (nopCache) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (nopCache) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (nopCache) BRPop(context.Context, time.Duration, string) ([]byte, bool, error) {
	return nil, false, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawChannels(n int) []*models.Channel {
	channels := make([]*models.Channel, n)
	for i := range channels {
		channels[i] = &models.Channel{
			ID:        uuid.New(),
			ChannelID: uuid.NewString(),
			Source:    models.SourceMigration,
		}
	}
	return channels
}

func newProcessor(fs *fakeStore, chunkSize int) *worker.Processor {
	return worker.NewProcessor(fs, nopCache{}, testLogger(), chunkSize, 0, 0)
}

func TestRun_ChunksAndCommitsProgress(t *testing.T) {
	fs := newFakeStore(rawChannels(250)...)
	p := newProcessor(fs, 100)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	processed := 0
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, ch *models.Channel) error {
		processed++
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 250, processed)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.TotalItems)
	assert.Equal(t, 250, *job.TotalItems)
	assert.Equal(t, 250, job.ProcessedItems)
	// Chunk commits land at 100, 200, 250.
	assert.Contains(t, fs.commits, 100)
	assert.Contains(t, fs.commits, 200)
	assert.Contains(t, fs.commits, 250)
}

func TestRun_FetchesOneChunkAtATime(t *testing.T) {
	fs := newFakeStore(rawChannels(250)...)
	p := newProcessor(fs, 100)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, ch *models.Channel) error {
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)

	// Each selection asks for at most one chunk, never the full remainder.
	assert.Equal(t, []int{100, 100, 50}, fs.listLimits)
}

func TestRun_ItemLimitCapsTotal(t *testing.T) {
	fs := newFakeStore(rawChannels(250)...)
	p := newProcessor(fs, 100)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	processed := 0
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 120, func(_ context.Context, ch *models.Channel) error {
		processed++
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 120, processed)
	assert.Equal(t, 120, *job.TotalItems)
	assert.Equal(t, 120, job.ProcessedItems)
}

func TestRun_FailingItemsAreSkipped(t *testing.T) {
	fs := newFakeStore(rawChannels(10)...)
	p := newProcessor(fs, 5)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	calls := 0
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, ch *models.Channel) error {
		calls++
		if calls%3 == 0 {
			return errors.New("item exploded")
		}
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
	// Failures count toward progress; the job still completes.
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 10, job.ProcessedItems)
}

func TestRun_ResumesFromCommittedProgress(t *testing.T) {
	channels := rawChannels(250)
	// First 100 already processed before the crash.
	for i := 0; i < 100; i++ {
		channels[i].MetadataFetched = true
	}
	fs := newFakeStore(channels...)
	p := newProcessor(fs, 100)

	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)
	require.NoError(t, job.Start())
	total := 250
	job.TotalItems = &total
	job.ProcessedItems = 100

	processed := 0
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, ch *models.Channel) error {
		processed++
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 150, processed)
	assert.Equal(t, 250, job.ProcessedItems)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestRun_SelectionFailureFailsJob(t *testing.T) {
	fs := newFakeStore(rawChannels(10)...)
	fs.countErr = errors.New("database unavailable")
	p := newProcessor(fs, 5)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, _ *models.Channel) error {
		t.Fatal("items must not run when selection fails")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "database unavailable")
}

func TestRun_PanickingChunkAdvances(t *testing.T) {
	fs := newFakeStore(rawChannels(10)...)
	p := newProcessor(fs, 5)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	calls := 0
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, ch *models.Channel) error {
		calls++
		if calls == 2 {
			panic("poison item")
		}
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)
	// The first chunk died at its second item but progress moved past it.
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 10, job.ProcessedItems)
}

func TestRun_ScopedToExplicitChannelIDs(t *testing.T) {
	channels := rawChannels(5)
	fs := newFakeStore(channels...)
	p := newProcessor(fs, 10)
	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)

	scope := []string{channels[1].ChannelID, channels[3].ChannelID}
	var touched []string
	err := p.Run(context.Background(), job, store.SelectLackingMetadata, scope, 0, func(_ context.Context, ch *models.Channel) error {
		touched = append(touched, ch.ChannelID)
		ch.MetadataFetched = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, scope, touched)
	assert.Equal(t, 2, *job.TotalItems)
}

func TestRun_TerminalJobIsDropped(t *testing.T) {
	fs := newFakeStore(rawChannels(3)...)
	p := newProcessor(fs, 10)

	job := models.NewJob(uuid.New(), models.JobTypeBatchMetadata)
	require.NoError(t, job.Start())
	require.NoError(t, job.Complete())

	err := p.Run(context.Background(), job, store.SelectLackingMetadata, nil, 0, func(_ context.Context, _ *models.Channel) error {
		t.Fatal("terminal jobs must not process items")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fs.updateCalls)
}
