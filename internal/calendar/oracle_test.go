package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHolidays map[string]bool

func (f fakeHolidays) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return f[date.Format("2006-01-02")], nil
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTargetHours_DefaultSchedule(t *testing.T) {
	o := NewOracle(fakeHolidays{"2026-01-01": true}, time.UTC)
	subj := Subject{WeeklyHours: decimal.NewFromInt(40), HireDate: date("2020-01-01")}

	hours, err := o.TargetHours(context.Background(), subj, date("2026-01-05")) // Monday
	require.NoError(t, err)
	assert.True(t, hours.Equal(decimal.NewFromInt(8)), "got %s", hours)

	hours, err = o.TargetHours(context.Background(), subj, date("2026-01-03")) // Saturday
	require.NoError(t, err)
	assert.True(t, hours.IsZero())

	hours, err = o.TargetHours(context.Background(), subj, date("2026-01-01")) // New Year holiday, a Thursday
	require.NoError(t, err)
	assert.True(t, hours.IsZero(), "holiday must override schedule")
}

func TestTargetHours_OutsideEmploymentWindow(t *testing.T) {
	o := NewOracle(fakeHolidays{}, time.UTC)
	end := date("2026-03-31")
	subj := Subject{WeeklyHours: decimal.NewFromInt(40), HireDate: date("2026-02-01"), EndDate: &end}

	hours, err := o.TargetHours(context.Background(), subj, date("2026-01-15"))
	require.NoError(t, err)
	assert.True(t, hours.IsZero(), "before hire date")

	hours, err = o.TargetHours(context.Background(), subj, date("2026-04-01"))
	require.NoError(t, err)
	assert.True(t, hours.IsZero(), "after end date")

	hours, err = o.TargetHours(context.Background(), subj, date("2026-02-02")) // Monday
	require.NoError(t, err)
	assert.True(t, hours.Equal(decimal.NewFromInt(8)))
}

func TestTargetHours_WorkScheduleOverride(t *testing.T) {
	o := NewOracle(fakeHolidays{"2026-01-06": true}, time.UTC)
	subj := Subject{
		HireDate: date("2025-01-01"),
		WorkSchedule: WeekSchedule{
			time.Monday:  decimal.NewFromInt(4),
			time.Tuesday: decimal.NewFromInt(4),
		},
	}

	for _, tc := range []struct {
		d        string
		expected string
	}{
		{"2026-01-05", "4"}, // Monday
		{"2026-01-06", "0"}, // Tuesday, holiday overrides the 4h schedule
		{"2026-01-07", "0"}, // Wednesday, not in schedule
		{"2026-01-12", "4"}, // Monday
	} {
		hours, err := o.TargetHours(context.Background(), subj, date(tc.d))
		require.NoError(t, err)
		want, _ := decimal.NewFromString(tc.expected)
		assert.True(t, hours.Equal(want), "%s: got %s want %s", tc.d, hours, want)
	}
}

// Scenario 1 from spec §8: part-time Mon+Tue schedule, vacation spanning a
// holiday. Working weekdays in 2026-01-01..2026-01-18 are Mon 05, Tue 06
// (holiday, excluded), Mon 12, Tue 13 -> 3 active days.
func TestBusinessDays_ExcludeHolidays_PartTimeSchedule(t *testing.T) {
	o := NewOracle(fakeHolidays{"2026-01-06": true}, time.UTC)
	subj := Subject{
		HireDate: date("2025-01-01"),
		WorkSchedule: WeekSchedule{
			time.Monday:  decimal.NewFromInt(4),
			time.Tuesday: decimal.NewFromInt(4),
		},
	}

	days, err := o.BusinessDays(context.Background(), subj, date("2026-01-01"), date("2026-01-18"), ExcludeHolidays)
	require.NoError(t, err)
	assert.Equal(t, 3, days)
}

func TestBusinessDays_IncludeHolidays_SickAndUnpaid(t *testing.T) {
	o := NewOracle(fakeHolidays{"2026-01-01": true}, time.UTC)
	subj := Subject{WeeklyHours: decimal.NewFromInt(40), HireDate: date("2020-01-01")}

	// Mon-Fri 2025-12-29..2026-01-02, with Jan 1 a holiday: sick/unpaid
	// still count the holiday since workSchedule[Thursday] > 0.
	days, err := o.BusinessDays(context.Background(), subj, date("2025-12-29"), date("2026-01-02"), IncludeHolidays)
	require.NoError(t, err)
	assert.Equal(t, 5, days)

	days, err = o.BusinessDays(context.Background(), subj, date("2025-12-29"), date("2026-01-02"), ExcludeHolidays)
	require.NoError(t, err)
	assert.Equal(t, 4, days, "vacation/overtime_comp must exclude the holiday")
}

func TestBusinessDays_ZeroHourWeekdayAlwaysExcluded(t *testing.T) {
	o := NewOracle(fakeHolidays{}, time.UTC)
	subj := Subject{
		HireDate: date("2020-01-01"),
		WorkSchedule: WeekSchedule{
			time.Monday: decimal.NewFromInt(8),
		},
	}

	days, err := o.BusinessDays(context.Background(), subj, date("2026-01-05"), date("2026-01-11"), IncludeHolidays)
	require.NoError(t, err)
	assert.Equal(t, 1, days, "only Monday is scheduled")
}

func TestIsWeekend(t *testing.T) {
	o := NewOracle(fakeHolidays{}, time.UTC)
	assert.True(t, o.IsWeekend(date("2026-01-03")))  // Saturday
	assert.False(t, o.IsWeekend(date("2026-01-05"))) // Monday
}
