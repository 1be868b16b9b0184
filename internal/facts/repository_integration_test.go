//go:build integration

package facts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/testutil"
)

func TestPostgresRepository_UserLifecycle(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "amelie@example.test")

	u, err := repo.GetUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, UserActive, u.Status)
	require.True(t, u.WeeklyHours.Equal(decimal.NewFromInt(40)))

	users, err := repo.ListActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	u.WeeklyHours = decimal.NewFromInt(32)
	require.NoError(t, repo.UpdateUserSchedule(ctx, u))

	reloaded, err := repo.GetUser(ctx, userID)
	require.NoError(t, err)
	require.True(t, reloaded.WeeklyHours.Equal(decimal.NewFromInt(32)))
}

func TestPostgresRepository_TimeEntryRange(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "bora@example.test")
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	te := &TimeEntry{
		ID: uuid.New().String(), UserID: userID, Date: day,
		Hours: decimal.NewFromInt(8), Location: LocationOffice,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateTimeEntry(ctx, te))

	entries, err := repo.TimeEntriesInRange(ctx, userID, day, day)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Hours.Equal(decimal.NewFromInt(8)))

	deleted, err := repo.DeleteTimeEntriesInRange(ctx, userID, day, day)
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	entries, err = repo.TimeEntriesInRange(ctx, userID, day, day)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPostgresRepository_HolidayLookup(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	testutil.SeedGermanHolidays(t, pool, 2026)

	isHoliday, err := repo.IsHoliday(ctx, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, isHoliday)

	isHoliday, err = repo.IsHoliday(ctx, time.Date(2026, time.May, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, isHoliday)

	holidays, err := repo.HolidaysInYear(ctx, 2026)
	require.NoError(t, err)
	require.Len(t, holidays, 5)
}

func TestPostgresRepository_VacationBalanceUpsert(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := testutil.CreateTestUser(t, pool, "chidi@example.test")

	vb := &VacationBalance{
		ID: uuid.New().String(), UserID: userID, Year: 2026,
		Entitlement: decimal.NewFromInt(25), UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.UpsertVacationBalance(ctx, vb))

	vb.Taken = decimal.NewFromInt(5)
	require.NoError(t, repo.UpsertVacationBalance(ctx, vb))

	reloaded, err := repo.GetVacationBalance(ctx, userID, 2026)
	require.NoError(t, err)
	require.True(t, reloaded.Taken.Equal(decimal.NewFromInt(5)))
	require.True(t, reloaded.Remaining().Equal(decimal.NewFromInt(20)))
}
