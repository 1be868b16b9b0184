//go:build integration

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedGermanHolidays inserts the five fixed-date nationwide German public
// holidays for a given year (no Easter-dependent ones), so integration tests can exercise the calendar oracle
// without depending on the live Nager.Date API.
func SeedGermanHolidays(t *testing.T, pool *pgxpool.Pool, year int) {
	t.Helper()

	holidays := []struct {
		date time.Time
		name string
	}{
		{time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), "Neujahr"},
		{time.Date(year, time.May, 1, 0, 0, 0, 0, time.UTC), "Tag der Arbeit"},
		{time.Date(year, time.October, 3, 0, 0, 0, 0, time.UTC), "Tag der Deutschen Einheit"},
		{time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC), "1. Weihnachtsfeiertag"},
		{time.Date(year, time.December, 26, 0, 0, 0, 0, time.UTC), "2. Weihnachtsfeiertag"},
	}

	ctx := context.Background()
	for _, h := range holidays {
		_, err := pool.Exec(ctx, `
			INSERT INTO holidays (date, name, federal)
			VALUES ($1, $2, true)
			ON CONFLICT (date) DO NOTHING
		`, h.date, h.name)
		if err != nil {
			t.Fatalf("seed holiday %s: %v", h.name, err)
		}
	}
}
