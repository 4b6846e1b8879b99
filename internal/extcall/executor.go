// Package extcall runs calls against external APIs through the credential
// pool, classifying failures and applying the retry policy for each class.
package extcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/channelintel/channelintel/internal/keypool"
)

// ErrQuotaExhausted is returned when every rotation attempt landed on a
// credential whose daily quota was spent.
var ErrQuotaExhausted = errors.New("external API quota exhausted across all credentials")

// OutcomeKind classifies the result of one external call.
type OutcomeKind int

const (
	// OutcomeOK means the call succeeded; Cost quota units were consumed.
	OutcomeOK OutcomeKind = iota
	// OutcomeQuotaExceeded means the credential's daily quota is spent.
	// The executor exhausts the key and rotates to the next one.
	OutcomeQuotaExceeded
	// OutcomeTransient means a retryable failure (5xx, network). The
	// executor retries the same credential with exponential backoff.
	OutcomeTransient
	// OutcomePermanent means the request itself is bad (4xx other than
	// quota). No retry; the credential's error count is bumped.
	OutcomePermanent
)

// Outcome is the classified result of one call attempt. Service clients
// produce Outcomes; the executor consumes them.
type Outcome struct {
	Kind OutcomeKind
	Cost int
	Err  error
}

func OK(cost int) Outcome             { return Outcome{Kind: OutcomeOK, Cost: cost} }
func QuotaExceeded(err error) Outcome { return Outcome{Kind: OutcomeQuotaExceeded, Err: err} }
func Transient(err error) Outcome     { return Outcome{Kind: OutcomeTransient, Err: err} }
func Permanent(err error) Outcome     { return Outcome{Kind: OutcomePermanent, Err: err} }

// CallFunc performs one call attempt using the given credential secret.
type CallFunc func(ctx context.Context, secret string) Outcome

// Executor acquires credentials and invokes calls with the rotation and
// retry policy. One Executor per external service; safe for concurrent use.
type Executor struct {
	pool   *keypool.Pool
	logger *slog.Logger

	// MaxRotations bounds how many credentials are tried when quotas come
	// back exhausted before giving up with ErrQuotaExhausted.
	MaxRotations int
	// TransientRetries bounds retries of a transient failure on one
	// credential; total attempts are TransientRetries+1.
	TransientRetries uint64
	// BackoffBase is the initial backoff interval for transient retries.
	BackoffBase time.Duration
}

// New creates an Executor with the default policy.
func New(pool *keypool.Pool, logger *slog.Logger) *Executor {
	return &Executor{
		pool:             pool,
		logger:           logger,
		MaxRotations:     3,
		TransientRetries: 2,
		BackoffBase:      2 * time.Second,
	}
}

// Execute runs fn through the credential pool. On success the consumed quota
// is charged to the credential that served the call. Quota-exceeded outcomes
// exhaust the credential and rotate to the next; transient outcomes retry
// the same credential with backoff; permanent outcomes bump the credential's
// error count and return immediately.
func (e *Executor) Execute(ctx context.Context, fn CallFunc) error {
	for rotation := 0; rotation < e.MaxRotations; rotation++ {
		cred, err := e.pool.Acquire(ctx)
		if err != nil {
			return err
		}

		outcome := e.callWithRetry(ctx, cred.Secret, fn)
		switch outcome.Kind {
		case OutcomeOK:
			if err := e.pool.RecordSuccess(ctx, cred.ID, outcome.Cost); err != nil {
				e.logger.Error("failed to record credential usage",
					"credential_id", cred.ID, "error", err)
			}
			return nil

		case OutcomeQuotaExceeded:
			if err := e.pool.MarkExhausted(ctx, cred.ID); err != nil {
				e.logger.Error("failed to mark credential exhausted",
					"credential_id", cred.ID, "error", err)
			}
			continue

		case OutcomePermanent:
			if err := e.pool.RecordError(ctx, cred.ID); err != nil {
				e.logger.Error("failed to record credential error",
					"credential_id", cred.ID, "error", err)
			}
			return fmt.Errorf("external call rejected: %w", outcome.Err)

		default: // transient, retries spent
			return fmt.Errorf("external call failed after retries: %w", outcome.Err)
		}
	}
	return ErrQuotaExhausted
}

// callWithRetry invokes fn on one credential, retrying transient outcomes
// with exponential backoff. Any non-transient outcome is returned as-is; if
// retries run out the last transient outcome is returned.
func (e *Executor) callWithRetry(ctx context.Context, secret string, fn CallFunc) Outcome {
	var last Outcome

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = e.BackoffBase

	operation := func() error {
		last = fn(ctx, secret)
		if last.Kind == OutcomeTransient {
			return last.Err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, e.TransientRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		e.logger.Warn("transient failure persisted through retries", "error", err)
	}
	return last
}
