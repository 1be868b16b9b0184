//go:build integration

package projection

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/testutil"
)

func TestPostgresRepository_UpsertAndCarryover(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "farida@example.test")

	require.NoError(t, repo.Upsert(ctx, userID, 2026, time.March, decimal.NewFromInt(160), decimal.NewFromInt(168)))

	p, err := repo.GetMonth(ctx, userID, 2026, time.March)
	require.NoError(t, err)
	require.True(t, p.Overtime.Equal(decimal.NewFromInt(8)))
	require.True(t, p.CarryoverFromPreviousYear.IsZero())

	require.NoError(t, repo.SetCarryover(ctx, userID, 2026, time.January, decimal.NewFromFloat(3.5)))
	jan, err := repo.GetMonth(ctx, userID, 2026, time.January)
	require.NoError(t, err)
	require.True(t, jan.CarryoverFromPreviousYear.Equal(decimal.NewFromFloat(3.5)))

	require.NoError(t, repo.Upsert(ctx, userID, 2026, time.February, decimal.NewFromInt(160), decimal.NewFromInt(150)))
	breakdown, err := repo.YearBreakdown(ctx, userID, 2026)
	require.NoError(t, err)
	require.Len(t, breakdown, 3)
	require.Equal(t, time.January, breakdown[0].Month)
	require.Equal(t, time.February, breakdown[1].Month)
	require.Equal(t, time.March, breakdown[2].Month)
}

func TestPostgresRepository_GetMonthNotFound(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "galileo@example.test")
	_, err := repo.GetMonth(ctx, userID, 2026, time.June)
	require.Error(t, err)
}
