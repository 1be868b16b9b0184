// Package calendar implements the Calendar Oracle (classifying a civil
// date as weekend/holiday and resolving a user's target hours for it) and
// the work-schedule-aware business-day counter the absence workflow uses
// to turn a date range into a days figure.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WeekSchedule maps a weekday to its contracted hours. A nil WeekSchedule
// means the user has no per-weekday override and falls back to
// weeklyHours/5 on Mon-Fri, 0 on Sat/Sun.
type WeekSchedule map[time.Weekday]decimal.Decimal

// Subject is the subset of user facts the oracle needs to resolve target
// hours and business-day counts. internal/facts.User converts into this on
// every call rather than the calendar package depending on facts, keeping
// calendar a leaf package.
type Subject struct {
	WeeklyHours  decimal.Decimal
	WorkSchedule WeekSchedule
	HireDate     time.Time
	EndDate      *time.Time
}

// hoursOn returns the contracted hours for weekday wd before holidays are
// taken into account.
func (s Subject) hoursOn(wd time.Weekday) decimal.Decimal {
	if s.WorkSchedule != nil {
		return s.WorkSchedule[wd]
	}
	if wd == time.Saturday || wd == time.Sunday {
		return decimal.Zero
	}
	return s.WeeklyHours.Div(decimal.NewFromInt(5))
}

func (s Subject) inEmploymentWindow(d time.Time) bool {
	if d.Before(civilDate(s.HireDate)) {
		return false
	}
	if s.EndDate != nil && d.After(civilDate(*s.EndDate)) {
		return false
	}
	return true
}

// HolidayLookup is the collaborator the oracle consults for exact-date
// holiday matches. internal/holidayoracle and internal/facts both satisfy
// it; the calendar package never talks to a store or HTTP client directly.
type HolidayLookup interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// Oracle answers weekend/holiday/target-hours questions in a single
// configured civil time zone (§9 "all date fields are civil dates in a
// single configured zone").
type Oracle struct {
	holidays HolidayLookup
	loc      *time.Location
}

func NewOracle(holidays HolidayLookup, loc *time.Location) *Oracle {
	if loc == nil {
		loc = time.UTC
	}
	return &Oracle{holidays: holidays, loc: loc}
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// In reinterprets d's calendar date (year/month/day) in the oracle's zone,
// discarding any incoming time-of-day/zone component.
func (o *Oracle) In(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, o.loc)
}

func (o *Oracle) IsWeekend(d time.Time) bool {
	wd := o.In(d).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (o *Oracle) IsHoliday(ctx context.Context, d time.Time) (bool, error) {
	return o.holidays.IsHoliday(ctx, o.In(d))
}

// TargetHours implements §4.1: 0 outside the employment window or on a
// holiday; otherwise the subject's per-weekday hours. Holidays override
// the work schedule, so a scheduled 8h Monday that happens to be a public
// holiday targets 0. Rounded to 2 decimals, half-away-from-zero.
func (o *Oracle) TargetHours(ctx context.Context, subj Subject, d time.Time) (decimal.Decimal, error) {
	day := o.In(d)

	if !subj.inEmploymentWindow(day) {
		return decimal.Zero, nil
	}

	holiday, err := o.IsHoliday(ctx, day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("check holiday for %s: %w", day.Format("2006-01-02"), err)
	}
	if holiday {
		return decimal.Zero, nil
	}

	return subj.hoursOn(day.Weekday()).Round(2), nil
}

// DayCountKind selects the §4.2 tie-break rule used when turning a date
// range into a business-day count for an absence.
type DayCountKind int

const (
	// ExcludeHolidays is used for vacation and overtime_comp: a holiday
	// never counts as a business day even if the schedule is active.
	ExcludeHolidays DayCountKind = iota
	// IncludeHolidays is used for sick and unpaid: holidays still count
	// (an employee can be ill, or on unpaid leave, on a holiday), but a
	// weekday scheduled at 0 hours is still excluded.
	IncludeHolidays
)

// BusinessDays counts the days in [start, end] (inclusive) that count as
// business days for an absence of the given kind, per §4.2. It does not
// clip the range to the employment window; callers are expected to have
// already validated startDate >= hireDate (§4.7).
func (o *Oracle) BusinessDays(ctx context.Context, subj Subject, start, end time.Time, kind DayCountKind) (int, error) {
	days, _, err := o.BusinessDaysAndHours(ctx, subj, start, end, kind)
	return days, err
}

// BusinessDaysAndHours is BusinessDays plus the sum of each counted day's
// scheduled hours, the "schedule-aware credit hours" figure the
// overtime-comp create and approve gates need (§4.7) without re-walking
// the range a second time.
func (o *Oracle) BusinessDaysAndHours(ctx context.Context, subj Subject, start, end time.Time, kind DayCountKind) (int, decimal.Decimal, error) {
	start, end = o.In(start), o.In(end)
	if end.Before(start) {
		return 0, decimal.Zero, nil
	}

	count := 0
	hours := decimal.Zero
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dayHours := subj.hoursOn(d.Weekday())
		if dayHours.IsZero() {
			continue
		}
		if kind == ExcludeHolidays {
			holiday, err := o.IsHoliday(ctx, d)
			if err != nil {
				return 0, decimal.Zero, fmt.Errorf("check holiday for %s: %w", d.Format("2006-01-02"), err)
			}
			if holiday {
				continue
			}
		}
		count++
		hours = hours.Add(dayHours)
	}
	return count, hours.Round(2), nil
}
