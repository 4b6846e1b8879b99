package credits_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("channelintel_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func createUser(t *testing.T, pool *pgxpool.Pool, plan string, balance int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, email, credits_balance, plan) VALUES ($1, $2, $3, $4)`,
		id, id.String()+"@example.com", balance, plan)
	require.NoError(t, err)
	return id
}

// sumCompleted returns the sum of completed ledger amounts for a user.
func sumCompleted(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) int {
	t.Helper()
	var sum int
	err := pool.QueryRow(context.Background(),
		`SELECT COALESCE(SUM(credits_amount), 0) FROM credit_transactions
		 WHERE user_id = $1 AND status = 'completed'`, userID).Scan(&sum)
	require.NoError(t, err)
	return sum
}

func TestCharge_DeductsAndAppendsEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()
	userID := createUser(t, pool, models.PlanFree, 100)

	require.NoError(t, ledger.Charge(ctx, userID, 25, "batch metadata job", "/api/v1/jobs/batch-metadata"))

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 75, balance)

	entries, total, err := ledger.History(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TransactionUsage, entries[0].TransactionType)
	assert.Equal(t, -25, entries[0].CreditsAmount)
	assert.Equal(t, models.TransactionCompleted, entries[0].Status)
	require.NotNil(t, entries[0].APIEndpoint)
	assert.Equal(t, "/api/v1/jobs/batch-metadata", *entries[0].APIEndpoint)
}

func TestCharge_InsufficientBalance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()
	userID := createUser(t, pool, models.PlanFree, 10)

	err := ledger.Charge(ctx, userID, 25, "too expensive", "/api/v1/jobs/batch-discovery")
	require.Error(t, err)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)

	var insufficient *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 25, insufficient.Need)
	assert.Equal(t, 10, insufficient.Have)

	// Balance untouched, no ledger entry.
	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
	_, total, err := ledger.History(ctx, userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestCharge_ConcurrentChargesRespectBalance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()

	// 10 workers race to charge 10 each against a balance of 55; exactly 5
	// can succeed.
	userID := createUser(t, pool, models.PlanFree, 55)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Charge(ctx, userID, 10, "concurrent charge", "/api/v1/jobs/metadata")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
		}
	}
	assert.Equal(t, 5, succeeded)

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)
	assert.Equal(t, -50, sumCompleted(t, pool, userID))
}

func TestGrant_PurchaseAdvancesLifetimeTotal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()
	userID := createUser(t, pool, models.PlanStarter, 0)

	ref := "pay_123"
	require.NoError(t, ledger.Grant(ctx, userID, 500, models.TransactionPurchase, "starter pack", &ref))

	var balance, purchased int
	err := pool.QueryRow(ctx,
		`SELECT credits_balance, total_credits_purchased FROM users WHERE id = $1`, userID).
		Scan(&balance, &purchased)
	require.NoError(t, err)
	assert.Equal(t, 500, balance)
	assert.Equal(t, 500, purchased)

	// Refunds move balance but not the purchased total.
	require.NoError(t, ledger.Grant(ctx, userID, 50, models.TransactionRefund, "partial refund", nil))
	err = pool.QueryRow(ctx,
		`SELECT credits_balance, total_credits_purchased FROM users WHERE id = $1`, userID).
		Scan(&balance, &purchased)
	require.NoError(t, err)
	assert.Equal(t, 550, balance)
	assert.Equal(t, 500, purchased)
}

func TestBalanceMatchesLedgerSum(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()
	userID := createUser(t, pool, models.PlanProfessional, 0)

	require.NoError(t, ledger.Grant(ctx, userID, 200, models.TransactionPurchase, "top up", nil))
	require.NoError(t, ledger.Charge(ctx, userID, 35, "batch videos", "/api/v1/jobs/batch-videos"))
	require.NoError(t, ledger.Charge(ctx, userID, 10, "metadata", "/api/v1/jobs/metadata"))
	require.NoError(t, ledger.Grant(ctx, userID, 35, models.TransactionRefund, "failed job refund", nil))

	balance, err := ledger.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 190, balance)
	assert.Equal(t, balance, sumCompleted(t, pool, userID))
}

func TestTopUpFreeCredits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	ledger := credits.NewLedger(pool)
	ctx := context.Background()

	low := createUser(t, pool, models.PlanFree, 3)
	granted, err := ledger.TopUpFreeCredits(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, models.FreeTierCredits-3, granted)

	balance, err := ledger.Balance(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, models.FreeTierCredits, balance)

	// A healthy balance is never reduced.
	rich := createUser(t, pool, models.PlanFree, 80)
	granted, err = ledger.TopUpFreeCredits(ctx, rich)
	require.NoError(t, err)
	assert.Equal(t, 0, granted)
	balance, err = ledger.Balance(ctx, rich)
	require.NoError(t, err)
	assert.Equal(t, 80, balance)

	// Paid plans are not eligible.
	paid := createUser(t, pool, models.PlanBusiness, 0)
	_, err = ledger.TopUpFreeCredits(ctx, paid)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
