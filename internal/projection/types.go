// Package projection implements the Monthly Projection (C6): the
// overtime_balance aggregate upserted at the end of every recompute
// (§4.5), and the yearly-total read model built on top of it.
package projection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/kernel"
)

// MonthlyProjection is one overtime_balance row. Overtime is a derived
// column (ActualHours - TargetHours), recomputed on every write rather
// than trusted across rebuilds, so it can never drift from its inputs.
type MonthlyProjection struct {
	ID                        string
	UserID                    string
	Year                      int
	Month                     time.Month
	TargetHours               decimal.Decimal
	ActualHours               decimal.Decimal
	Overtime                  decimal.Decimal
	CarryoverFromPreviousYear decimal.Decimal
	UpdatedAt                 time.Time
}

// Summarize implements §4.5's aggregation rule: target sums every day's
// target hours; actual sums worked + (credit unless the day is unpaid) +
// corrections, matching the exclusion of unpaid leave from actual hours
// (the unpaid day's target already dropped to reflect the reduction, so
// it naturally nets out of both sides).
func Summarize(days []kernel.DayResult) (targetHours, actualHours decimal.Decimal) {
	for _, d := range days {
		targetHours = targetHours.Add(d.TargetHours)
		actualHours = actualHours.Add(d.ActualHours)
	}
	return targetHours.Round(2), actualHours.Round(2)
}

// YearTotal implements §4.5's yearly-total rule: carryover plus the sum
// of every month's overtime up to and including upToMonth. carryover is
// read from January's row (§4.9 writes it there and nowhere else).
func YearTotal(months []MonthlyProjection, upToMonth time.Month) decimal.Decimal {
	total := decimal.Zero
	for _, m := range months {
		if m.Month == time.January {
			total = total.Add(m.CarryoverFromPreviousYear)
		}
		if m.Month <= upToMonth {
			total = total.Add(m.Overtime)
		}
	}
	return total.Round(2)
}
