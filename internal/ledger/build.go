package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/kernel"
)

func creditType(t facts.AbsenceType) (TransactionType, bool) {
	switch t {
	case facts.AbsenceVacation:
		return TransactionVacationCredit, true
	case facts.AbsenceSick:
		return TransactionSickCredit, true
	case facts.AbsenceOvertimeComp:
		return TransactionOvertimeCompCredit, true
	case facts.AbsenceSpecial:
		return TransactionSpecialCredit, true
	default:
		return "", false
	}
}

// AppendDay implements §4.4's row-emission rule for one DayResult: one
// "earned" row for a regular day, or two rows (earned + credit/adjustment)
// for a day covered by an absence. Returns the new rows and the balance
// running after them; uuid is used to mint each row's id.
func AppendDay(result kernel.DayResult, runningBalance decimal.Decimal, now time.Time, uuid UUIDGenerator) ([]Transaction, decimal.Decimal, error) {
	b := result.Breakdown
	// result.TargetHours already excludes UnpaidReduction (§8 scenario 3),
	// so the full day's target has to be added back here: the unpaid day's
	// own adjustment row below re-subtracts it, netting the pair to 0.
	fullDayTarget := result.TargetHours.Add(b.UnpaidReduction)
	earnedHours := b.Worked.Sub(fullDayTarget).Add(b.Corrections)

	earned := Transaction{
		ID:            uuid.New(),
		UserID:        "", // set by the caller, which knows the user id
		Date:          result.Date,
		Type:          TransactionEarned,
		Hours:         earnedHours.Round(2),
		ReferenceType: ReferenceDay,
		CreatedAt:     now,
	}

	if result.Absence == nil {
		balanceAfter := runningBalance.Add(earned.Hours).Round(2)
		earned.BalanceBefore = runningBalance
		earned.BalanceAfter = balanceAfter
		return []Transaction{earned}, balanceAfter, nil
	}

	after := runningBalance.Add(earned.Hours).Round(2)
	earned.BalanceBefore = runningBalance
	earned.BalanceAfter = after

	var second Transaction
	switch {
	case result.Absence.Type == facts.AbsenceUnpaid:
		second = Transaction{
			ID:            uuid.New(),
			Date:          result.Date,
			Type:          TransactionUnpaidAdjustment,
			Hours:         b.UnpaidReduction.Round(2),
			ReferenceType: ReferenceAbsence,
			ReferenceID:   result.Absence.ID,
			CreatedAt:     now,
		}
	default:
		ctype, ok := creditType(result.Absence.Type)
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("unsupported absence type for ledger credit: %s", result.Absence.Type)
		}
		second = Transaction{
			ID:            uuid.New(),
			Date:          result.Date,
			Type:          ctype,
			Hours:         b.AbsenceCredit.Round(2),
			ReferenceType: ReferenceAbsence,
			ReferenceID:   result.Absence.ID,
			CreatedAt:     now,
		}
	}
	second.BalanceBefore = after
	secondAfter := after.Add(second.Hours).Round(2)
	second.BalanceAfter = secondAfter

	return []Transaction{earned, second}, secondAfter, nil
}

// UUIDGenerator lets callers inject deterministic ids in tests.
type UUIDGenerator interface {
	New() string
}

// AppendCompensation implements the §4.7 "approve overtime_comp" step: a
// standalone negative transaction outside the day-kernel path, deducting
// hoursToDeduct (always positive) from the running balance.
func AppendCompensation(userID string, absenceID string, date time.Time, hoursToDeduct decimal.Decimal, runningBalance decimal.Decimal, now time.Time, uuid UUIDGenerator) (Transaction, decimal.Decimal) {
	hours := hoursToDeduct.Neg().Round(2)
	after := runningBalance.Add(hours).Round(2)
	return Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Date:          date,
		Type:          TransactionCompensation,
		Hours:         hours,
		BalanceBefore: runningBalance,
		BalanceAfter:  after,
		ReferenceType: ReferenceAbsence,
		ReferenceID:   absenceID,
		CreatedAt:     now,
	}, after
}
