// Package kernel implements the Daily Calculation Kernel (C4): a pure
// function turning one (user, date)'s facts into that day's contribution
// to target, actual and overtime hours. It has no store dependency so it
// can be exercised directly in property-based tests (§9 "testing seam").
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/calendar"
	"github.com/hmb-research/overtime-engine/internal/facts"
)

// Breakdown exposes the intermediate quantities §4.3 names, so the ledger
// (C5) can derive its earned/credit rows without recomputing them.
type Breakdown struct {
	Worked          decimal.Decimal
	AbsenceCredit   decimal.Decimal
	Corrections     decimal.Decimal
	UnpaidReduction decimal.Decimal
}

// DayResult is the kernel's output for a single civil date.
type DayResult struct {
	Date        time.Time
	TargetHours decimal.Decimal
	ActualHours decimal.Decimal
	Overtime    decimal.Decimal
	Breakdown   Breakdown
	// Absence is the approved absence covering Date, if any. The ledger
	// uses its Type to pick the credit-row kind (§4.4).
	Absence *facts.AbsenceRequest
}

// DayFacts is everything the kernel needs for one date, collected by the
// caller (normally the Recompute Orchestrator) ahead of time so the
// kernel itself never touches a store.
type DayFacts struct {
	TimeEntries []facts.TimeEntry
	Absence     *facts.AbsenceRequest
	Corrections []facts.OvertimeCorrection
}

// creditsFullTarget reports the types that credit the full target hours to
// the employee (§4.3 step 4). AbsenceUnpaid is handled separately.
func creditsFullTarget(t facts.AbsenceType) bool {
	switch t {
	case facts.AbsenceVacation, facts.AbsenceSick, facts.AbsenceOvertimeComp, facts.AbsenceSpecial:
		return true
	default:
		return false
	}
}

// Compute implements §4.3's eight-step algorithm for one (user, date).
func Compute(ctx context.Context, oracle *calendar.Oracle, subject calendar.Subject, date time.Time, df DayFacts) (DayResult, error) {
	targetHours, err := oracle.TargetHours(ctx, subject, date)
	if err != nil {
		return DayResult{}, fmt.Errorf("target hours: %w", err)
	}

	worked := decimal.Zero
	for _, te := range df.TimeEntries {
		worked = worked.Add(te.Hours)
	}

	absenceCredit := decimal.Zero
	unpaidReduction := decimal.Zero
	if df.Absence != nil {
		switch {
		case creditsFullTarget(df.Absence.Type):
			absenceCredit = targetHours
		case df.Absence.Type == facts.AbsenceUnpaid:
			unpaidReduction = targetHours
		}
	}

	corrections := decimal.Zero
	for _, c := range df.Corrections {
		corrections = corrections.Add(c.Hours)
	}

	actualHours := worked.Add(absenceCredit).Add(corrections)
	effectiveTarget := targetHours.Sub(unpaidReduction)
	overtime := actualHours.Sub(effectiveTarget)

	return DayResult{
		Date:        date,
		TargetHours: effectiveTarget.Round(2),
		ActualHours: actualHours.Round(2),
		Overtime:    overtime.Round(2),
		Breakdown: Breakdown{
			Worked:          worked.Round(2),
			AbsenceCredit:   absenceCredit.Round(2),
			Corrections:     corrections.Round(2),
			UnpaidReduction: unpaidReduction.Round(2),
		},
		Absence: df.Absence,
	}, nil
}
