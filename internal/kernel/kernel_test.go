package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/calendar"
	"github.com/hmb-research/overtime-engine/internal/facts"
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

func hours(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

// Scenario 2 from spec §8: full-time user works 8h on a holiday. Target is
// 0, so the entire worked time becomes overtime.
func TestCompute_OvertimeOnHoliday(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{"2026-01-01": true}, time.UTC)
	subj := calendar.Subject{WeeklyHours: hours(40), HireDate: date("2020-01-01")}

	result, err := Compute(context.Background(), o, subj, date("2026-01-01"), DayFacts{
		TimeEntries: []facts.TimeEntry{{Hours: hours(8)}},
	})
	require.NoError(t, err)

	assert.True(t, result.TargetHours.IsZero())
	assert.True(t, result.ActualHours.Equal(hours(8)))
	assert.True(t, result.Overtime.Equal(hours(8)))
}

// Scenario 3 from spec §8: unpaid leave reduces target, not balance.
func TestCompute_UnpaidLeaveNeutral(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{}, time.UTC)
	subj := calendar.Subject{WeeklyHours: hours(40), HireDate: date("2020-01-01")}
	absence := &facts.AbsenceRequest{Type: facts.AbsenceUnpaid, Status: facts.AbsenceApproved}

	result, err := Compute(context.Background(), o, subj, date("2025-12-01"), DayFacts{Absence: absence}) // Monday
	require.NoError(t, err)

	assert.True(t, result.TargetHours.IsZero(), "unpaid day's target excludes the reduction (P8)")
	assert.True(t, result.ActualHours.IsZero())
	assert.True(t, result.Overtime.IsZero(), "unpaid day must not move the balance")
	assert.True(t, result.Breakdown.UnpaidReduction.Equal(hours(8)))
}

// Paid absence (vacation/sick/overtime_comp/special) on a full-target day
// with no work and no corrections is neutral too (P7).
func TestCompute_PaidAbsenceNeutralWithNoWork(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{}, time.UTC)
	subj := calendar.Subject{WeeklyHours: hours(40), HireDate: date("2020-01-01")}

	for _, absType := range []facts.AbsenceType{facts.AbsenceVacation, facts.AbsenceSick, facts.AbsenceOvertimeComp, facts.AbsenceSpecial} {
		absence := &facts.AbsenceRequest{Type: absType, Status: facts.AbsenceApproved}
		result, err := Compute(context.Background(), o, subj, date("2026-01-05"), DayFacts{Absence: absence})
		require.NoError(t, err)
		assert.True(t, result.Overtime.IsZero(), "%s must be neutral", absType)
		assert.True(t, result.Breakdown.AbsenceCredit.Equal(hours(8)))
	}
}

// Paid absence plus work on the same day: overtime equals worked + corrections.
func TestCompute_PaidAbsenceWithWorkStillCreditsOvertime(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{}, time.UTC)
	subj := calendar.Subject{WeeklyHours: hours(40), HireDate: date("2020-01-01")}
	absence := &facts.AbsenceRequest{Type: facts.AbsenceVacation, Status: facts.AbsenceApproved}

	result, err := Compute(context.Background(), o, subj, date("2026-01-05"), DayFacts{
		Absence:     absence,
		TimeEntries: []facts.TimeEntry{{Hours: hours(2)}},
		Corrections: []facts.OvertimeCorrection{{Hours: decimal.NewFromFloat(0.5)}},
	})
	require.NoError(t, err)
	assert.True(t, result.Overtime.Equal(decimal.NewFromFloat(2.5)), "got %s", result.Overtime)
}

func TestCompute_RegularWorkday(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{}, time.UTC)
	subj := calendar.Subject{WeeklyHours: hours(40), HireDate: date("2020-01-01")}

	result, err := Compute(context.Background(), o, subj, date("2026-01-05"), DayFacts{
		TimeEntries: []facts.TimeEntry{{Hours: hours(9)}},
	})
	require.NoError(t, err)
	assert.True(t, result.TargetHours.Equal(hours(8)))
	assert.True(t, result.Overtime.Equal(hours(1)))
}

// Scenario 1's day-level shape: on the holiday itself (Tue 06), the
// part-time schedule and the holiday both zero target and credit, so the
// day contributes 0 to the running balance even though an absence covers it.
func TestCompute_PartTimeScheduleHolidayWithinVacation(t *testing.T) {
	o := calendar.NewOracle(fakeHolidays{"2026-01-06": true}, time.UTC)
	subj := calendar.Subject{
		HireDate: date("2025-01-01"),
		WorkSchedule: calendar.WeekSchedule{
			time.Monday:  hours(4),
			time.Tuesday: hours(4),
		},
	}
	absence := &facts.AbsenceRequest{Type: facts.AbsenceVacation, Status: facts.AbsenceApproved}

	result, err := Compute(context.Background(), o, subj, date("2026-01-06"), DayFacts{Absence: absence})
	require.NoError(t, err)
	assert.True(t, result.TargetHours.IsZero())
	assert.True(t, result.Breakdown.AbsenceCredit.IsZero())
	assert.True(t, result.Overtime.IsZero())

	result, err = Compute(context.Background(), o, subj, date("2026-01-05"), DayFacts{Absence: absence})
	require.NoError(t, err)
	assert.True(t, result.TargetHours.Equal(hours(4)))
	assert.True(t, result.Breakdown.AbsenceCredit.Equal(hours(4)))
	assert.True(t, result.Overtime.IsZero())
}
