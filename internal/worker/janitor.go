package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/store"
)

// Maintenance cadence and retention.
const (
	quotaResetInterval  = time.Hour
	cleanupInterval     = 24 * time.Hour
	jobRetention        = 7 * 24 * time.Hour
	freeCreditInterval  = 24 * time.Hour
	freeCreditStaleness = 30 * 24 * time.Hour
)

// Janitor runs the periodic maintenance loops: credential quota resets, old
// job cleanup, and monthly free-credit top-ups.
type Janitor struct {
	store  store.Store
	ledger *credits.Ledger
	logger *slog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(s store.Store, ledger *credits.Ledger, logger *slog.Logger) *Janitor {
	return &Janitor{store: s, ledger: ledger, logger: logger}
}

// Run executes all maintenance loops until ctx is canceled. Each pass also
// runs once at startup so a long-stopped deployment catches up immediately.
func (j *Janitor) Run(ctx context.Context) {
	j.resetQuotas(ctx)
	j.cleanupJobs(ctx)
	j.resetFreeCredits(ctx)

	quotaTicker := time.NewTicker(quotaResetInterval)
	cleanupTicker := time.NewTicker(cleanupInterval)
	creditTicker := time.NewTicker(freeCreditInterval)
	defer quotaTicker.Stop()
	defer cleanupTicker.Stop()
	defer creditTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopping")
			return
		case <-quotaTicker.C:
			j.resetQuotas(ctx)
		case <-cleanupTicker.C:
			j.cleanupJobs(ctx)
		case <-creditTicker.C:
			j.resetFreeCredits(ctx)
		}
	}
}

// resetQuotas reopens credentials whose daily quota window has rolled over.
func (j *Janitor) resetQuotas(ctx context.Context) {
	reset, err := j.store.ResetExpiredCredentialQuotas(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("credential quota reset failed", "error", err)
		return
	}
	if reset > 0 {
		j.logger.Info("credential quotas reset", "count", reset)
	}
}

// cleanupJobs deletes terminal jobs past the retention window.
func (j *Janitor) cleanupJobs(ctx context.Context) {
	deleted, err := j.store.DeleteTerminalJobsBefore(ctx, time.Now().UTC().Add(-jobRetention))
	if err != nil {
		j.logger.Error("job cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		j.logger.Info("old jobs deleted", "count", deleted)
	}
}

// resetFreeCredits tops up free-plan users whose last reset is older than a
// month.
func (j *Janitor) resetFreeCredits(ctx context.Context) {
	userIDs, err := j.store.ListFreeResetCandidates(ctx, time.Now().UTC().Add(-freeCreditStaleness))
	if err != nil {
		j.logger.Error("free credit candidate lookup failed", "error", err)
		return
	}

	topped := 0
	for _, userID := range userIDs {
		granted, err := j.ledger.TopUpFreeCredits(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			j.logger.Error("free credit top-up failed", "user_id", userID, "error", err)
			continue
		}
		if granted > 0 {
			topped++
		}
	}
	if len(userIDs) > 0 {
		j.logger.Info("free credit reset pass finished", "candidates", len(userIDs), "topped_up", topped)
	}
}
