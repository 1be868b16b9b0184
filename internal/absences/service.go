// Package absences implements the Absence State Machine (C8): the
// create/approve/reject/delete transitions for vacation, sick, unpaid and
// overtime-comp requests, the balance gates each type enforces, and the
// orchestrator rebuilds and notifications those transitions trigger.
package absences

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/apierror"
	"github.com/hmb-research/overtime-engine/internal/calendar"
	"github.com/hmb-research/overtime-engine/internal/config"
	"github.com/hmb-research/overtime-engine/internal/database"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/notify"
	"github.com/hmb-research/overtime-engine/internal/recompute"
)

const vacationCarryoverCap = 5

// Service implements §4.7/§4.8. atomic wraps each transition's writes in a
// single transaction; New wires it to the real pool, NewWithAtomic lets
// tests substitute a trivial no-op wrapper so the rest of the service runs
// against fake repositories with no database at all (the same seam
// internal/recompute uses).
type Service struct {
	facts           facts.Repository
	ledgerRepo      ledger.Repository
	oracle          *calendar.Oracle
	recompute       *recompute.Orchestrator
	uuid            facts.UUIDGenerator
	notifier        notify.Notifier
	audit           notify.AuditLogger
	conflictPolicy  config.ConflictPolicy
	carryoverPolicy config.CarryoverVacationPolicy
	now             func() time.Time
	atomic          func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error
}

func New(
	pool *database.Pool,
	factsRepo facts.Repository,
	ledgerRepo ledger.Repository,
	oracle *calendar.Oracle,
	orchestrator *recompute.Orchestrator,
	uuid facts.UUIDGenerator,
	notifier notify.Notifier,
	audit notify.AuditLogger,
	conflictPolicy config.ConflictPolicy,
	carryoverPolicy config.CarryoverVacationPolicy,
) *Service {
	atomic := func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
		return pool.WithTx(ctx, fn)
	}
	return NewWithAtomic(atomic, factsRepo, ledgerRepo, oracle, orchestrator, uuid, notifier, audit, conflictPolicy, carryoverPolicy)
}

// NewWithAtomic builds a Service with a caller-supplied transaction
// wrapper, bypassing Postgres entirely. Used by tests that exercise the
// state machine against fake repositories.
func NewWithAtomic(
	atomic func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error,
	factsRepo facts.Repository,
	ledgerRepo ledger.Repository,
	oracle *calendar.Oracle,
	orchestrator *recompute.Orchestrator,
	uuid facts.UUIDGenerator,
	notifier notify.Notifier,
	audit notify.AuditLogger,
	conflictPolicy config.ConflictPolicy,
	carryoverPolicy config.CarryoverVacationPolicy,
) *Service {
	return &Service{
		facts:           factsRepo,
		ledgerRepo:      ledgerRepo,
		oracle:          oracle,
		recompute:       orchestrator,
		uuid:            uuid,
		notifier:        notifier,
		audit:           audit,
		conflictPolicy:  conflictPolicy,
		carryoverPolicy: carryoverPolicy,
		now:             time.Now,
		atomic:          atomic,
	}
}

// CreateInput is the caller-supplied half of a new absence request; Days,
// Status and the approval fields are all derived by Create.
type CreateInput struct {
	UserID    string
	Type      facts.AbsenceType
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// dayCountKind selects the §4.2 business-day tie-break rule per absence
// type: vacation and overtime-comp exclude holidays, sick and unpaid
// include them.
func dayCountKind(t facts.AbsenceType) calendar.DayCountKind {
	switch t {
	case facts.AbsenceVacation, facts.AbsenceOvertimeComp:
		return calendar.ExcludeHolidays
	default:
		return calendar.IncludeHolidays
	}
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Create implements §4.7's create guards plus the vacation/overtime-comp
// type-specific gates. Sick absences skip the type-specific gates and are minted
// directly into AbsenceApproved, triggering the same post-approval
// rebuild and notification as an explicit Approve call.
func (s *Service) Create(ctx context.Context, in CreateInput) (*facts.AbsenceRequest, error) {
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, apierror.Validation("start and end date are required")
	}
	start, end := civil(in.StartDate), civil(in.EndDate)
	if end.Before(start) {
		return nil, apierror.Validation("end date must not be before start date")
	}
	if in.Type == facts.AbsenceSpecial {
		return nil, apierror.Validation("special absences are not created through this operation")
	}

	var created *facts.AbsenceRequest
	err := s.atomic(ctx, in.UserID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)

		user, err := factsRepo.GetUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if start.Before(civil(user.HireDate)) {
			return apierror.Conflict("absence start date %s precedes hire date %s", start.Format("2006-01-02"), user.HireDate.Format("2006-01-02"))
		}

		overlapping, err := factsRepo.AbsencesOverlapping(ctx, in.UserID, start, end, facts.AbsencePending, facts.AbsenceApproved)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return apierror.Conflict("overlaps %d existing absence request(s)", len(overlapping))
		}

		conflicting, err := factsRepo.TimeEntriesInRange(ctx, in.UserID, start, end)
		if err != nil {
			return err
		}
		if len(conflicting) > 0 {
			return apierror.Conflict("time entries already logged on: %s", conflictDates(conflicting))
		}

		days, hours, err := s.oracle.BusinessDaysAndHours(ctx, user.Schedule(), start, end, dayCountKind(in.Type))
		if err != nil {
			return err
		}
		if days == 0 {
			return apierror.Conflict("NoWorkingDays")
		}

		status := facts.AbsencePending
		var approvedAt *time.Time

		switch in.Type {
		case facts.AbsenceVacation:
			balance, err := s.ensureVacationBalance(ctx, factsRepo, user, start.Year())
			if err != nil {
				return err
			}
			requested := decimal.NewFromInt(int64(days))
			if balance.Remaining().LessThan(requested) {
				return apierror.Conflict("insufficient vacation balance: remaining %s, requested %s", balance.Remaining().String(), requested.String())
			}
			balance.Pending = balance.Pending.Add(requested)
			balance.UpdatedAt = s.now()
			if err := factsRepo.UpsertVacationBalance(ctx, balance); err != nil {
				return err
			}

		case facts.AbsenceOvertimeComp:
			current, err := currentBalance(ctx, ledgerRepo, in.UserID, s.now())
			if err != nil {
				return err
			}
			if current.LessThan(hours) {
				return apierror.Conflict("insufficient overtime balance: have %s, need %s", current.String(), hours.String())
			}

		case facts.AbsenceSick:
			status = facts.AbsenceApproved
			now := s.now()
			approvedAt = &now
		}

		now := s.now()
		created = &facts.AbsenceRequest{
			ID:         s.uuid.New(),
			UserID:     in.UserID,
			Type:       in.Type,
			StartDate:  start,
			EndDate:    end,
			Days:       days,
			Status:     status,
			Reason:     in.Reason,
			ApprovedAt: approvedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return factsRepo.CreateAbsence(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	if created.Status == facts.AbsenceApproved {
		if err := s.afterApproval(ctx, created, "system"); err != nil {
			return created, err
		}
	}
	return created, nil
}

func conflictDates(entries []facts.TimeEntry) string {
	dates := make([]string, len(entries))
	for i, te := range entries {
		dates[i] = te.Date.Format("2006-01-02")
	}
	return strings.Join(dates, ", ")
}

// Approve implements the §4.7 "approve any type" and "approve
// overtime_comp" transitions: pending or rejected -> approved. Re-checks
// the overtime-comp gate against the live balance, applies the conflict
// policy, moves the vacation balance from pending to taken, then rebuilds
// every overlapping month; that rebuild is what writes the standalone
// compensation transaction for an overtime_comp absence.
func (s *Service) Approve(ctx context.Context, absenceID, approvedBy string) (*facts.AbsenceRequest, error) {
	var approved *facts.AbsenceRequest
	var deletedEntries []facts.TimeEntry

	err := s.atomic(ctx, "", func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)

		a, err := factsRepo.GetAbsence(ctx, absenceID)
		if err != nil {
			return err
		}
		if a.Status == facts.AbsenceApproved {
			return apierror.Conflict("absence %s is already approved", absenceID)
		}

		user, err := factsRepo.GetUser(ctx, a.UserID)
		if err != nil {
			return err
		}

		if a.Type == facts.AbsenceOvertimeComp {
			_, hours, err := s.oracle.BusinessDaysAndHours(ctx, user.Schedule(), a.StartDate, a.EndDate, calendar.ExcludeHolidays)
			if err != nil {
				return err
			}
			current, err := currentBalance(ctx, ledgerRepo, a.UserID, s.now())
			if err != nil {
				return err
			}
			if current.LessThan(hours) {
				return apierror.Conflict("insufficient overtime balance at approval time: have %s, need %s", current.String(), hours.String())
			}
			// The deduction itself is not inserted here: the post-commit
			// orchestrator rebuild below regenerates the standalone
			// compensation row for every approved overtime_comp absence it
			// finds overlapping the window, keeping this one source of
			// truth idempotent across repeated rebuilds.
		}

		switch s.conflictPolicy {
		case config.ConflictDeleteTimeEntries:
			deleted, err := factsRepo.DeleteTimeEntriesInRange(ctx, a.UserID, a.StartDate, a.EndDate)
			if err != nil {
				return err
			}
			deletedEntries = deleted
		case config.ConflictRejectApproval:
			conflicting, err := factsRepo.TimeEntriesInRange(ctx, a.UserID, a.StartDate, a.EndDate)
			if err != nil {
				return err
			}
			if len(conflicting) > 0 {
				return apierror.Conflict("cannot approve: time entries already logged on %s", conflictDates(conflicting))
			}
		}

		if a.Type == facts.AbsenceVacation {
			if err := s.moveVacationDays(ctx, factsRepo, a, fromPending, toTaken); err != nil {
				return err
			}
		}

		now := s.now()
		a.Status = facts.AbsenceApproved
		a.ApprovedBy = &approvedBy
		a.ApprovedAt = &now
		a.UpdatedAt = now
		if err := factsRepo.UpdateAbsence(ctx, a); err != nil {
			return err
		}

		approved = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.afterApproval(ctx, approved, approvedBy); err != nil {
		return approved, err
	}

	if len(deletedEntries) > 0 {
		s.notifier.Emit(ctx, approved.UserID, notify.KindTimeEntriesDeleted, map[string]interface{}{
			"absence_id":    approved.ID,
			"deleted_count": len(deletedEntries),
		})
	}

	return approved, nil
}

// Reject implements "approved -> rejected" (cancellation) and the plain
// "pending -> rejected" path. approved_by/approved_at double as the
// rejector's identity and timestamp: the §6 schema anchors no separate
// rejectedBy/rejectedAt columns.
func (s *Service) Reject(ctx context.Context, absenceID, rejectedBy string) (*facts.AbsenceRequest, error) {
	var rejected *facts.AbsenceRequest
	wasApproved := false

	err := s.atomic(ctx, "", func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)

		a, err := factsRepo.GetAbsence(ctx, absenceID)
		if err != nil {
			return err
		}
		if a.Status == facts.AbsenceRejected {
			return apierror.Conflict("absence %s is already rejected", absenceID)
		}
		wasApproved = a.Status == facts.AbsenceApproved

		if a.Type == facts.AbsenceVacation {
			from := fromPending
			if wasApproved {
				from = fromTaken
			}
			if err := s.moveVacationDays(ctx, factsRepo, a, from, release); err != nil {
				return err
			}
		}

		now := s.now()
		a.Status = facts.AbsenceRejected
		a.ApprovedBy = &rejectedBy
		a.ApprovedAt = &now
		a.UpdatedAt = now
		if err := factsRepo.UpdateAbsence(ctx, a); err != nil {
			return err
		}

		rejected = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Rejecting an approved absence reverses its ledger credit/compensation
	// rows by rebuilding: the kernel simply no longer sees an approved
	// absence on those dates and derives a plain working-day row instead.
	if wasApproved {
		if err := s.rebuildOverlapping(ctx, rejected); err != nil {
			return rejected, err
		}
	}

	s.notifier.Emit(ctx, rejected.UserID, notify.KindAbsenceRejected, map[string]interface{}{"absence_id": rejected.ID})
	s.audit.Record(ctx, rejectedBy, "reject_absence", "absence_request", rejected.ID, map[string]interface{}{"status": string(rejected.Status)})
	return rejected, nil
}

// Delete implements the §4.7 deletion rule: an admin may delete from any
// state, an employee only their own pending requests.
func (s *Service) Delete(ctx context.Context, absenceID, actorID string, actorIsAdmin bool) (*facts.AbsenceRequest, error) {
	var deleted *facts.AbsenceRequest
	wasApproved := false

	err := s.atomic(ctx, "", func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)

		a, err := factsRepo.GetAbsence(ctx, absenceID)
		if err != nil {
			return err
		}

		if !actorIsAdmin {
			if a.UserID != actorID {
				return apierror.Forbidden("cannot delete another user's absence request")
			}
			if a.Status != facts.AbsencePending {
				return apierror.Forbidden("employees may only delete their own pending absence requests")
			}
		}
		wasApproved = a.Status == facts.AbsenceApproved

		if a.Type == facts.AbsenceVacation && a.Status != facts.AbsenceRejected {
			from := fromPending
			if wasApproved {
				from = fromTaken
			}
			if err := s.moveVacationDays(ctx, factsRepo, a, from, release); err != nil {
				return err
			}
		}

		d, err := factsRepo.DeleteAbsence(ctx, absenceID)
		if err != nil {
			return err
		}
		deleted = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasApproved {
		if err := s.rebuildOverlapping(ctx, deleted); err != nil {
			return deleted, err
		}
	}

	s.audit.Record(ctx, actorID, "delete_absence", "absence_request", deleted.ID, map[string]interface{}{"status": string(deleted.Status)})
	return deleted, nil
}

// vacationBucket names which VacationBalance field holds an absence's
// days while it is outstanding.
type vacationBucket int

const (
	fromPending vacationBucket = iota
	fromTaken
	toTaken
	release
)

// moveVacationDays applies a.Days to the VacationBalance named by from,
// moving it to toTaken (approval) or simply releasing the hold (rejection,
// deletion). Missing balances are a no-op: a balance is only ever created
// by the create-time gate, so its absence means the absence request never
// actually held vacation days (e.g. it predates balance tracking).
func (s *Service) moveVacationDays(ctx context.Context, factsRepo facts.Repository, a *facts.AbsenceRequest, from, to vacationBucket) error {
	balance, err := factsRepo.GetVacationBalance(ctx, a.UserID, a.StartDate.Year())
	if err != nil {
		if apierror.Is(err, apierror.KindNotFound) {
			return nil
		}
		return err
	}

	days := decimal.NewFromInt(int64(a.Days))
	switch from {
	case fromPending:
		balance.Pending = balance.Pending.Sub(days)
		if balance.Pending.IsNegative() {
			balance.Pending = decimal.Zero
		}
	case fromTaken:
		balance.Taken = balance.Taken.Sub(days)
		if balance.Taken.IsNegative() {
			balance.Taken = decimal.Zero
		}
	}
	if to == toTaken {
		balance.Taken = balance.Taken.Add(days)
	}
	balance.UpdatedAt = s.now()
	return factsRepo.UpsertVacationBalance(ctx, balance)
}

// ensureVacationBalance auto-initializes the year's VacationBalance on
// first touch (§4.7), inheriting carryover from the previous year's
// remaining balance, capped at 5 days under the default policy.
func (s *Service) ensureVacationBalance(ctx context.Context, factsRepo facts.Repository, user *facts.User, year int) (*facts.VacationBalance, error) {
	balance, err := factsRepo.GetVacationBalance(ctx, user.ID, year)
	if err == nil {
		return balance, nil
	}
	if !apierror.Is(err, apierror.KindNotFound) {
		return nil, err
	}

	carryover := decimal.Zero
	prev, prevErr := factsRepo.GetVacationBalance(ctx, user.ID, year-1)
	if prevErr == nil {
		remaining := prev.Remaining()
		if remaining.IsPositive() {
			carryover = remaining
			if s.carryoverPolicy == config.CarryoverCapped5 {
				cap := decimal.NewFromInt(vacationCarryoverCap)
				if carryover.GreaterThan(cap) {
					carryover = cap
				}
			}
		}
	} else if !apierror.Is(prevErr, apierror.KindNotFound) {
		return nil, prevErr
	}

	balance = &facts.VacationBalance{
		ID:          s.uuid.New(),
		UserID:      user.ID,
		Year:        year,
		Entitlement: decimal.NewFromInt(int64(user.VacationDaysPerYear)),
		Carryover:   carryover,
		Taken:       decimal.Zero,
		Pending:     decimal.Zero,
		UpdatedAt:   s.now(),
	}
	if err := factsRepo.UpsertVacationBalance(ctx, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// currentBalance treats "no ledger rows yet" as a zero balance rather than
// an error the gate needs to special-case.
func currentBalance(ctx context.Context, ledgerRepo ledger.Repository, userID string, asOf time.Time) (decimal.Decimal, error) {
	balance, err := ledgerRepo.LatestAsOf(ctx, userID, asOf)
	if err != nil {
		if apierror.Is(err, apierror.KindNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *Service) afterApproval(ctx context.Context, a *facts.AbsenceRequest, actorID string) error {
	if err := s.rebuildOverlapping(ctx, a); err != nil {
		return err
	}
	s.notifier.Emit(ctx, a.UserID, notify.KindAbsenceApproved, map[string]interface{}{"absence_id": a.ID, "type": string(a.Type)})
	s.audit.Record(ctx, actorID, "approve_absence", "absence_request", a.ID, map[string]interface{}{"status": string(a.Status)})
	return nil
}

func (s *Service) rebuildOverlapping(ctx context.Context, a *facts.AbsenceRequest) error {
	today := s.now()
	for _, my := range monthsOverlapping(a.StartDate, a.EndDate) {
		if err := s.recompute.Rebuild(ctx, a.UserID, my.year, my.month, today); err != nil {
			return fmt.Errorf("rebuild %04d-%02d after absence %s: %w", my.year, my.month, a.ID, err)
		}
	}
	return nil
}

type monthYear struct {
	year  int
	month time.Month
}

func monthsOverlapping(start, end time.Time) []monthYear {
	var out []monthYear
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		out = append(out, monthYear{cursor.Year(), cursor.Month()})
		cursor = cursor.AddDate(0, 1, 0)
	}
	return out
}
