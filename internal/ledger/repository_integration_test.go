//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/testutil"
)

func TestPostgresRepository_InsertAndRunningBalance(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "dorottya@example.test")
	day1 := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)

	rows := []Transaction{
		{
			ID: uuid.New().String(), UserID: userID, Date: day1, Type: TransactionEarned,
			Hours: decimal.NewFromFloat(1.5), BalanceBefore: decimal.Zero, BalanceAfter: decimal.NewFromFloat(1.5),
			ReferenceType: ReferenceDay, CreatedAt: time.Now(),
		},
		{
			ID: uuid.New().String(), UserID: userID, Date: day2, Type: TransactionEarned,
			Hours: decimal.NewFromFloat(-0.5), BalanceBefore: decimal.NewFromFloat(1.5), BalanceAfter: decimal.NewFromInt(1),
			ReferenceType: ReferenceDay, CreatedAt: time.Now(),
		},
	}
	require.NoError(t, repo.Insert(ctx, rows))

	balance, err := repo.LatestAsOf(ctx, userID, day2)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(1)))

	before, err := repo.LatestBefore(ctx, userID, day2)
	require.NoError(t, err)
	require.True(t, before.Equal(decimal.NewFromFloat(1.5)))

	inRange, err := repo.InRange(ctx, userID, day1, day2)
	require.NoError(t, err)
	require.Len(t, inRange, 2)

	require.NoError(t, repo.DeleteInMonth(ctx, userID, 2026, time.March))
	inRange, err = repo.InRange(ctx, userID, day1, day2)
	require.NoError(t, err)
	require.Empty(t, inRange)
}

func TestPostgresRepository_LatestBeforeWithNoRowsIsZero(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "eero@example.test")
	balance, err := repo.LatestBefore(ctx, userID, time.Now())
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}
