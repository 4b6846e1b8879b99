package ratelimit

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
)

// fakeCache is an in-memory counter store. failing makes every read and
// write return an error to exercise the fail-open path.
type fakeCache struct {
	counters map[string]int64
	failing  bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{counters: make(map[string]int64)}
}

func (f *fakeCache) Ping(context.Context) error { return nil }
func (f *fakeCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (f *fakeCache) Get(context.Context, string) ([]byte, bool, error)  { return nil, false, nil }
func (f *fakeCache) Delete(context.Context, string) error               { return nil }
func (f *fakeCache) LPush(context.Context, string, []byte) error        { return nil }
func (f *fakeCache) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (f *fakeCache) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (f *fakeCache) BRPop(context.Context, time.Duration, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f *fakeCache) IncrByWithExpiry(_ context.Context, key string, n int64, _ time.Duration) (int64, error) {
	if f.failing {
		return 0, errors.New("redis down")
	}
	f.counters[key] += n
	return f.counters[key], nil
}

func (f *fakeCache) GetCount(_ context.Context, key string) (int64, error) {
	if f.failing {
		return 0, errors.New("redis down")
	}
	return f.counters[key], nil
}

func newTestLimiter(fc *fakeCache) *Limiter {
	l := New(fc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Pin to mid-window so retry-after assertions are exact.
	l.now = func() time.Time {
		return time.Date(2026, 3, 14, 10, 30, 30, 0, time.UTC)
	}
	return l
}

func TestCheck_AllowsUnderCeiling(t *testing.T) {
	l := newTestLimiter(newFakeCache())
	denial, err := l.Check(context.Background(), uuid.New(), "free", MetricRequests, 1)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestCheck_DeniesAtMinuteCeiling(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()
	ctx := context.Background()

	// Free plan allows 10 requests per minute.
	for i := 0; i < 10; i++ {
		denial, err := l.Check(ctx, userID, "free", MetricRequests, 1)
		require.NoError(t, err)
		require.Nil(t, denial)
		l.Record(ctx, userID, MetricRequests, 1)
	}

	denial, err := l.Check(ctx, userID, "free", MetricRequests, 1)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, WindowMinute, denial.Window)
	assert.Equal(t, int64(10), denial.Current)
	assert.Equal(t, int64(10), denial.Max)
	assert.Equal(t, int64(0), denial.Remaining)
	assert.Equal(t, 30*time.Second, denial.RetryAfter)
}

func TestCheck_DeniesCreditsInHourWindow(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()
	ctx := context.Background()

	// 30 of 50 hourly credits consumed; a 25-credit call must be denied
	// with 20 remaining.
	l.Record(ctx, userID, MetricCredits, 30)

	denial, err := l.Check(ctx, userID, "free", MetricCredits, 25)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, MetricCredits, denial.Metric)
	assert.Equal(t, WindowHour, denial.Window)
	assert.Equal(t, int64(30), denial.Current)
	assert.Equal(t, int64(50), denial.Max)
	assert.Equal(t, int64(20), denial.Remaining)
	assert.Equal(t, 29*time.Minute+30*time.Second, denial.RetryAfter)
}

func TestCheck_CreditsHaveNoMinuteCeiling(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()

	// 40 credits in one minute is fine; the hour ceiling (50) still binds.
	l.Record(context.Background(), userID, MetricCredits, 40)

	denial, err := l.Check(context.Background(), userID, "free", MetricCredits, 5)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestCheck_HigherPlanRaisesCeilings(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()
	ctx := context.Background()

	l.Record(ctx, userID, MetricRequests, 50)

	denial, err := l.Check(ctx, userID, "free", MetricRequests, 1)
	require.NoError(t, err)
	require.NotNil(t, denial)

	denial, err = l.Check(ctx, userID, "professional", MetricRequests, 1)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestCheck_UnknownPlanFallsBackToFree(t *testing.T) {
	assert.Equal(t, planTable["free"], LimitsFor("platinum"))
}

func TestCheck_FailsOpenOnCacheErrors(t *testing.T) {
	fc := newFakeCache()
	fc.failing = true
	l := newTestLimiter(fc)

	denial, err := l.Check(context.Background(), uuid.New(), "free", MetricRequests, 1)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestRecord_CountsAllWindows(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()

	l.Record(context.Background(), userID, MetricRequests, 3)
	assert.Len(t, fc.counters, 3)
	for _, count := range fc.counters {
		assert.Equal(t, int64(3), count)
	}
}

func TestUsage_ReportsAllCeilings(t *testing.T) {
	fc := newFakeCache()
	l := newTestLimiter(fc)
	userID := uuid.New()
	ctx := context.Background()

	l.Record(ctx, userID, MetricRequests, 7)
	l.Record(ctx, userID, MetricCredits, 12)

	usage := l.Usage(ctx, userID, "free")
	require.Len(t, usage[MetricRequests], 3)
	require.Len(t, usage[MetricCredits], 2) // no minute ceiling for credits

	minute := usage[MetricRequests][0]
	assert.Equal(t, WindowMinute, minute.Window)
	assert.Equal(t, int64(7), minute.Current)
	assert.Equal(t, int64(3), minute.Remaining)

	hour := usage[MetricCredits][0]
	assert.Equal(t, WindowHour, hour.Window)
	assert.Equal(t, int64(12), hour.Current)
	assert.Equal(t, int64(38), hour.Remaining)
}
