// Package keypool manages the rotating pool of external-API credentials.
// Selection always favors the credential with the most remaining quota, so
// load spreads evenly and a single exhausted key never stalls the fleet.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

// ErrNoCredentialAvailable is returned when every credential for a service is
// inactive or out of quota.
var ErrNoCredentialAvailable = errors.New("no usable credential available")

// Pool hands out credentials and records call outcomes against them. All
// bookkeeping goes through atomic store statements, so one Pool per process
// is safe with any number of concurrent workers.
type Pool struct {
	store   store.Store
	service string
	logger  *slog.Logger
}

// New creates a Pool for one external service.
func New(s store.Store, service string, logger *slog.Logger) *Pool {
	return &Pool{store: s, service: service, logger: logger}
}

// Acquire returns the usable credential with the lowest quota consumption.
// The returned credential is a snapshot; quota counters move only through
// the Record methods.
func (p *Pool) Acquire(ctx context.Context) (*models.Credential, error) {
	creds, err := p.store.ListUsableCredentials(ctx, p.service)
	if err != nil {
		return nil, fmt.Errorf("list usable credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentialAvailable
	}
	return creds[0], nil
}

// RecordSuccess charges cost quota units against the credential and stamps
// its last-use time.
func (p *Pool) RecordSuccess(ctx context.Context, id uuid.UUID, cost int) error {
	if err := p.store.AddCredentialUsage(ctx, id, cost); err != nil {
		return fmt.Errorf("record credential usage: %w", err)
	}
	return nil
}

// MarkExhausted pins the credential's quota to its limit so it drops out of
// rotation until the next daily reset.
func (p *Pool) MarkExhausted(ctx context.Context, id uuid.UUID) error {
	p.logger.Warn("credential quota exhausted, removing from rotation", "credential_id", id)
	if err := p.store.ExhaustCredentialQuota(ctx, id); err != nil {
		return fmt.Errorf("mark credential exhausted: %w", err)
	}
	return nil
}

// RecordError bumps the credential's error counter. A credential that
// accumulates DeactivateErrorThreshold errors is deactivated in the same
// statement.
func (p *Pool) RecordError(ctx context.Context, id uuid.UUID) error {
	if err := p.store.IncrementCredentialError(ctx, id, models.DeactivateErrorThreshold); err != nil {
		return fmt.Errorf("record credential error: %w", err)
	}
	return nil
}
