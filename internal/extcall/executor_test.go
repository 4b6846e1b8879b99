package extcall_test

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

	"github.com/channelintel/channelintel/internal/extcall"
	"github.com/channelintel/channelintel/internal/keypool"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

type mockStore struct {
	store.Store
	creds map[uuid.UUID]*models.Credential
}

func newMockStore(creds ...*models.Credential) *mockStore {
	m := &mockStore{creds: make(map[uuid.UUID]*models.Credential)}
	for _, c := range creds {
		m.creds[c.ID] = c
	}
	return m
}

func (m *mockStore) ListUsableCredentials(_ context.Context, service string) ([]*models.Credential, error) {
	var out []*models.Credential
	for _, c := range m.creds {
		if c.Service == service && c.Usable() {
			out = append(out, c)
		}
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].QuotaUsed < out[i].QuotaUsed {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *mockStore) AddCredentialUsage(_ context.Context, id uuid.UUID, cost int) error {
	m.creds[id].QuotaUsed += cost
	return nil
}

func (m *mockStore) ExhaustCredentialQuota(_ context.Context, id uuid.UUID) error {
	m.creds[id].QuotaUsed = m.creds[id].QuotaLimit
	return nil
}

func (m *mockStore) IncrementCredentialError(_ context.Context, id uuid.UUID, threshold int) error {
	c := m.creds[id]
	c.ErrorCount++
	if c.ErrorCount >= threshold {
		c.IsActive = false
	}
	return nil
}

func cred(name string) *models.Credential {
	return &models.Credential{
		ID:         uuid.New(),
		Name:       name,
		Secret:     "secret-" + name,
		Service:    models.ServiceYouTube,
		QuotaLimit: 10000,
		IsActive:   true,
	}
}

func newExecutor(ms *mockStore) *extcall.Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := keypool.New(ms, models.ServiceYouTube, logger)
	e := extcall.New(pool, logger)
	e.BackoffBase = time.Millisecond
	return e
}

func TestExecute_SuccessChargesQuota(t *testing.T) {
	c := cred("primary")
	ms := newMockStore(c)
	e := newExecutor(ms)

	err := e.Execute(context.Background(), func(_ context.Context, secret string) extcall.Outcome {
		assert.Equal(t, "secret-primary", secret)
		return extcall.OK(100)
	})
	require.NoError(t, err)
	assert.Equal(t, 100, c.QuotaUsed)
}

func TestExecute_RotatesOnQuotaExceeded(t *testing.T) {
	first := cred("first")
	second := cred("second")
	second.QuotaUsed = 1 // selected after first
	ms := newMockStore(first, second)
	e := newExecutor(ms)

	var secrets []string
	err := e.Execute(context.Background(), func(_ context.Context, secret string) extcall.Outcome {
		secrets = append(secrets, secret)
		if secret == "secret-first" {
			return extcall.QuotaExceeded(errors.New("quotaExceeded"))
		}
		return extcall.OK(2)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"secret-first", "secret-second"}, secrets)
	assert.Equal(t, first.QuotaLimit, first.QuotaUsed)
	assert.Equal(t, 3, second.QuotaUsed)
}

func TestExecute_QuotaExhaustedAfterMaxRotations(t *testing.T) {
	a, b, c := cred("a"), cred("b"), cred("c")
	ms := newMockStore(a, b, c)
	e := newExecutor(ms)

	calls := 0
	err := e.Execute(context.Background(), func(_ context.Context, _ string) extcall.Outcome {
		calls++
		return extcall.QuotaExceeded(errors.New("quotaExceeded"))
	})
	assert.ErrorIs(t, err, extcall.ErrQuotaExhausted)
	assert.Equal(t, 3, calls)
}

func TestExecute_NoCredentialAvailable(t *testing.T) {
	ms := newMockStore()
	e := newExecutor(ms)

	err := e.Execute(context.Background(), func(_ context.Context, _ string) extcall.Outcome {
		t.Fatal("call should not run without a credential")
		return extcall.OK(0)
	})
	assert.ErrorIs(t, err, keypool.ErrNoCredentialAvailable)
}

func TestExecute_TransientRetriesSameCredential(t *testing.T) {
	c := cred("retry")
	ms := newMockStore(c)
	e := newExecutor(ms)

	attempts := 0
	err := e.Execute(context.Background(), func(_ context.Context, _ string) extcall.Outcome {
		attempts++
		if attempts < 3 {
			return extcall.Transient(errors.New("upstream 503"))
		}
		return extcall.OK(1)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, c.QuotaUsed)
}

func TestExecute_TransientGivesUpAfterRetries(t *testing.T) {
	c := cred("down")
	ms := newMockStore(c)
	e := newExecutor(ms)

	upstream := errors.New("upstream 503")
	attempts := 0
	err := e.Execute(context.Background(), func(_ context.Context, _ string) extcall.Outcome {
		attempts++
		return extcall.Transient(upstream)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.Equal(t, 0, c.QuotaUsed)
}

func TestExecute_PermanentNoRetryBumpsErrorCount(t *testing.T) {
	c := cred("bad-request")
	ms := newMockStore(c)
	e := newExecutor(ms)

	bad := errors.New("invalid parameter")
	attempts := 0
	err := e.Execute(context.Background(), func(_ context.Context, _ string) extcall.Outcome {
		attempts++
		return extcall.Permanent(bad)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, c.ErrorCount)
	assert.True(t, c.IsActive)
}

func TestExecute_PermanentDeactivatesAtThreshold(t *testing.T) {
	c := cred("doomed")
	ms := newMockStore(c)
	e := newExecutor(ms)
	ctx := context.Background()

	for i := 0; i < models.DeactivateErrorThreshold; i++ {
		_ = e.Execute(ctx, func(_ context.Context, _ string) extcall.Outcome {
			return extcall.Permanent(errors.New("invalid parameter"))
		})
	}
	assert.False(t, c.IsActive)

	err := e.Execute(ctx, func(_ context.Context, _ string) extcall.Outcome {
		t.Fatal("deactivated credential must not be selected")
		return extcall.OK(0)
	})
	assert.ErrorIs(t, err, keypool.ErrNoCredentialAvailable)
}
