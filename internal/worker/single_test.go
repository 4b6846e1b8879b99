package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

// singleStore serves one channel and records job writes.
type singleStore struct {
	store.Store
	channel *models.Channel
	updates int
}

func (s *singleStore) GetChannel(_ context.Context, _ uuid.UUID) (*models.Channel, error) {
	if s.channel == nil {
		return nil, store.ErrNotFound
	}
	return s.channel, nil
}

func (s *singleStore) GetChannelByExternalID(_ context.Context, _ string) (*models.Channel, error) {
	if s.channel == nil {
		return nil, store.ErrNotFound
	}
	return s.channel, nil
}

func (s *singleStore) UpdateJob(_ context.Context, _ *models.Job) error {
	s.updates++
	return nil
}

type silentCache struct{}

func (silentCache) Ping(context.Context) error { return nil }
func (silentCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (silentCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (silentCache) Delete(context.Context, string) error { return nil }
func (silentCache) LPush(context.Context, string, []byte) error { return nil }
func (silentCache) GetCount(context.Context, string) (int64, error) { return 0, nil }
func (silentCache) IncrByWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, nil
}
func (silentCache) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (silentCache) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (silentCache) BRPop(context.Context, time.Duration, string) ([]byte, bool, error) {
	return nil, false, nil
}

func newSingleWorker(fs *singleStore) *Worker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fs, silentCache{}, nil, nil, nil, nil, nil, nil, logger, 0, 0)
}

func TestRunSingle_CompletesPendingJob(t *testing.T) {
	fs := &singleStore{channel: &models.Channel{ID: uuid.New(), ChannelID: "UCa2345678901234567890ab"}}
	w := newSingleWorker(fs)
	job := models.NewJob(uuid.New(), models.JobTypeMetadata)

	calls := 0
	err := w.runSingle(context.Background(), job, queue.Task{
		Params: queue.Params{ChannelIDs: []string{"UCa2345678901234567890ab"}},
	}, func(context.Context, *models.Channel) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
}

func TestRunSingle_ResumesRedeliveredJob(t *testing.T) {
	fs := &singleStore{channel: &models.Channel{ID: uuid.New(), ChannelID: "UCa2345678901234567890ab"}}
	w := newSingleWorker(fs)

	// The first delivery crashed after the job row went running.
	job := models.NewJob(uuid.New(), models.JobTypeMetadata)
	require.NoError(t, job.Start())

	calls := 0
	err := w.runSingle(context.Background(), job, queue.Task{
		Params: queue.Params{ChannelIDs: []string{"UCa2345678901234567890ab"}},
	}, func(context.Context, *models.Channel) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestRunSingle_MissingChannelFailsJob(t *testing.T) {
	fs := &singleStore{}
	w := newSingleWorker(fs)
	job := models.NewJob(uuid.New(), models.JobTypeMetadata)

	err := w.runSingle(context.Background(), job, queue.Task{}, func(context.Context, *models.Channel) error {
		t.Fatal("item func must not run without a channel")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
}
