// Package facts implements the Source Fact Store (C3): the persistent,
// operator-mutated record of users, time entries, absence requests,
// manual corrections and public holidays the rest of the engine derives
// the ledger and projection from.
package facts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/calendar"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// User is the contractual record §3 describes. WorkSchedule is nil when
// the user has no per-weekday override.
type User struct {
	ID                  string
	Username            string
	Email               string
	FirstName           string
	LastName            string
	Role                Role
	Status              UserStatus
	WeeklyHours         decimal.Decimal
	WorkSchedule        calendar.WeekSchedule
	VacationDaysPerYear int
	HireDate            time.Time
	EndDate             *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Schedule converts the user into the subset of facts the calendar Oracle
// needs, keeping the calendar package free of a facts import.
func (u *User) Schedule() calendar.Subject {
	return calendar.Subject{
		WeeklyHours:  u.WeeklyHours,
		WorkSchedule: u.WorkSchedule,
		HireDate:     u.HireDate,
		EndDate:      u.EndDate,
	}
}

func (u *User) IsActive() bool {
	return u.Status == UserActive
}

type Location string

const (
	LocationOffice     Location = "office"
	LocationHomeoffice Location = "homeoffice"
	LocationField      Location = "field"
)

// TimeEntry is a single logged block of work (§3). Multiple entries may
// exist for the same (userId, date); they sum additively in the kernel.
type TimeEntry struct {
	ID           string
	UserID       string
	Date         time.Time
	Hours        decimal.Decimal
	BreakMinutes int
	StartTime    *time.Time
	EndTime      *time.Time
	Location     Location
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AbsenceType string

const (
	AbsenceVacation     AbsenceType = "vacation"
	AbsenceSick         AbsenceType = "sick"
	AbsenceUnpaid       AbsenceType = "unpaid"
	AbsenceOvertimeComp AbsenceType = "overtime_comp"
	// AbsenceSpecial is consumed by the kernel (§4.3 step 4) but is not a
	// type any create/approve path in §4.7 originates; it exists for
	// corrections that need to credit a day without falling under
	// vacation/sick/overtime_comp bookkeeping.
	AbsenceSpecial AbsenceType = "special"
)

type AbsenceStatus string

const (
	AbsencePending  AbsenceStatus = "pending"
	AbsenceApproved AbsenceStatus = "approved"
	AbsenceRejected AbsenceStatus = "rejected"
)

// AbsenceRequest is the §3/§4.7 entity. Days is precomputed at creation
// time by the work-schedule-aware business-day counter (§4.2) and is not
// recalculated unless the request is recreated.
type AbsenceRequest struct {
	ID         string
	UserID     string
	Type       AbsenceType
	StartDate  time.Time
	EndDate    time.Time
	Days       int
	Status     AbsenceStatus
	Reason     string
	ApprovedBy *string
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Overlaps reports whether the closed interval [a.StartDate, a.EndDate]
// intersects [startDate, endDate] per the half-open-interval rule in §4.7:
// existing.start <= new.end && existing.end >= new.start.
func (a *AbsenceRequest) Overlaps(startDate, endDate time.Time) bool {
	return !a.StartDate.After(endDate) && !a.EndDate.Before(startDate)
}

type CorrectionType string

const (
	CorrectionSystemError   CorrectionType = "system_error"
	CorrectionAbsenceCredit CorrectionType = "absence_credit"
	CorrectionMigration     CorrectionType = "migration"
	CorrectionManual        CorrectionType = "manual"
)

// OvertimeCorrection is an immutable manual balance adjustment (§3).
// Hours may be negative; Reason must be at least 10 characters.
type OvertimeCorrection struct {
	ID             string
	UserID         string
	Date           time.Time
	Hours          decimal.Decimal
	Reason         string
	CorrectionType CorrectionType
	CreatedBy      string
	CreatedAt      time.Time
}

// Holiday is unique by Date (§3).
type Holiday struct {
	Date    time.Time
	Name    string
	Federal bool
}

// VacationBalance is the per-(user, year) vacation entitlement ledger the
// absence state machine's vacation-specific create gate reads and writes
// (§4.7). Remaining is always recomputed from its components rather than
// stored as a trusted delta.
type VacationBalance struct {
	ID          string
	UserID      string
	Year        int
	Entitlement decimal.Decimal
	Carryover   decimal.Decimal
	Taken       decimal.Decimal
	Pending     decimal.Decimal
	UpdatedAt   time.Time
}

// Remaining implements the entitlement+carryover-taken-pending identity
// every mutation re-derives from rather than trusting a cached field.
func (v *VacationBalance) Remaining() decimal.Decimal {
	return v.Entitlement.Add(v.Carryover).Sub(v.Taken).Sub(v.Pending)
}
