// Package credits maintains user credit balances and their append-only
// transaction ledger. Balance moves and ledger appends always happen in one
// database transaction, so credits_balance stays equal to the sum of
// completed transaction amounts.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

// ErrInsufficientCredits matches any InsufficientCreditsError via errors.Is.
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError reports a rejected charge with the amounts
// involved.
type InsufficientCreditsError struct {
	Need int
	Have int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Need, e.Have)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Ledger charges and grants credits. It works on the pool directly because
// every operation spans a balance row and a ledger row transactionally.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger on the shared connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Charge deducts amount from the user's balance and appends a completed
// usage entry. The decrement is conditional on the balance covering the
// amount; concurrent charges against one user serialize on the row, and only
// those the balance can absorb succeed.
func (l *Ledger) Charge(ctx context.Context, userID uuid.UUID, amount int, description, endpoint string) error {
	if amount <= 0 {
		return fmt.Errorf("charge amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin charge: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET credits_balance = credits_balance - $2, updated_at = NOW()
		 WHERE id = $1 AND credits_balance >= $2`, userID, amount)
	if err != nil {
		return fmt.Errorf("decrement balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var have int
		err := tx.QueryRow(ctx, `SELECT credits_balance FROM users WHERE id = $1`, userID).Scan(&have)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		return &InsufficientCreditsError{Need: amount, Have: have}
	}

	if err := insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:              uuid.New(),
		UserID:          userID,
		TransactionType: models.TransactionUsage,
		CreditsAmount:   -amount,
		Description:     description,
		Status:          models.TransactionCompleted,
		APIEndpoint:     &endpoint,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit charge: %w", err)
	}
	return nil
}

// Grant adds amount to the user's balance and appends a completed entry of
// the given type. Purchases also advance the lifetime purchased total.
func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, amount int, txType, description string, paymentRef *string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `UPDATE users SET credits_balance = credits_balance + $2, updated_at = NOW() WHERE id = $1`
	if txType == models.TransactionPurchase {
		query = `UPDATE users SET credits_balance = credits_balance + $2,
		         total_credits_purchased = total_credits_purchased + $2, updated_at = NOW()
		         WHERE id = $1`
	}
	tag, err := tx.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:               uuid.New(),
		UserID:           userID,
		TransactionType:  txType,
		CreditsAmount:    amount,
		PaymentReference: paymentRef,
		Description:      description,
		Status:           models.TransactionCompleted,
		CreatedAt:        time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit grant: %w", err)
	}
	return nil
}

// TopUpFreeCredits restores a free-plan user's balance to the free tier
// allowance and stamps the reset time. Returns the number of credits
// granted, zero when the balance already covers the allowance.
func (l *Ledger) TopUpFreeCredits(ctx context.Context, userID uuid.UUID) (int, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin free top-up: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx,
		`SELECT credits_balance FROM users
		 WHERE id = $1 AND plan = $2 AND is_active FOR UPDATE`,
		userID, models.PlanFree).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	delta := models.FreeTierCredits - balance
	if delta <= 0 {
		_, err = tx.Exec(ctx,
			`UPDATE users SET last_free_credit_reset = NOW(), updated_at = NOW() WHERE id = $1`, userID)
		if err != nil {
			return 0, fmt.Errorf("stamp free reset: %w", err)
		}
		return 0, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET credits_balance = $2, last_free_credit_reset = NOW(), updated_at = NOW()
		 WHERE id = $1`, userID, models.FreeTierCredits)
	if err != nil {
		return 0, fmt.Errorf("top up balance: %w", err)
	}

	if err := insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:              uuid.New(),
		UserID:          userID,
		TransactionType: models.TransactionFreeReset,
		CreditsAmount:   delta,
		Description:     "monthly free tier credit reset",
		Status:          models.TransactionCompleted,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit free top-up: %w", err)
	}
	return delta, nil
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx,
		`SELECT credits_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// History returns the user's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, page, limit int) ([]*models.CreditTransaction, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}

	var total int
	err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, transaction_type, credits_amount, payment_reference, description, status, api_endpoint, created_at
		 FROM credit_transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var entries []*models.CreditTransaction
	for rows.Next() {
		var e models.CreditTransaction
		if err := rows.Scan(&e.ID, &e.UserID, &e.TransactionType, &e.CreditsAmount,
			&e.PaymentReference, &e.Description, &e.Status, &e.APIEndpoint, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func insertTransaction(ctx context.Context, tx pgx.Tx, e *models.CreditTransaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, transaction_type, credits_amount, payment_reference, description, status, api_endpoint, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.TransactionType, e.CreditsAmount, e.PaymentReference,
		e.Description, e.Status, e.APIEndpoint, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}
