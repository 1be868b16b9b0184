// Package ledger implements the Transaction Ledger (C5): the append-only,
// running-sum store of overtime_transactions rows the engine's balance
// reads derive from (§4.4). Only the Recompute Orchestrator writes to it.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the kinds of row §4.4/§6 name. Credit rows
// are one-per-absence-type so a monthly report can break overtime down
// by cause without re-deriving it from the absence table.
type TransactionType string

const (
	TransactionEarned             TransactionType = "earned"
	TransactionVacationCredit     TransactionType = "vacation_credit"
	TransactionSickCredit         TransactionType = "sick_credit"
	TransactionOvertimeCompCredit TransactionType = "overtime_comp_credit"
	TransactionSpecialCredit      TransactionType = "special_credit"
	TransactionUnpaidAdjustment   TransactionType = "unpaid_adjustment"
	// TransactionCompensation is appended outside the day-kernel path when
	// an overtime_comp absence is approved (§4.7): a standalone negative
	// adjustment, not a per-day credit.
	TransactionCompensation TransactionType = "compensation"
)

// ReferenceType names what CreateAbsence/CreateCorrection/day-kernel
// produced a row, so it can be traced back without re-deriving it.
type ReferenceType string

const (
	ReferenceDay        ReferenceType = "day"
	ReferenceAbsence    ReferenceType = "absence"
	ReferenceCorrection ReferenceType = "correction"
	ReferenceRollover   ReferenceType = "rollover"
)

// Transaction is one immutable overtime_transactions row. BalanceBefore
// and BalanceAfter make the running sum recoverable without re-summing
// (§4.4's read model), which is what keeps large-range historical queries
// free of accumulated floating-point drift.
type Transaction struct {
	ID            string
	UserID        string
	Date          time.Time
	Type          TransactionType
	Hours         decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	ReferenceType ReferenceType
	ReferenceID   string
	CreatedAt     time.Time
}
