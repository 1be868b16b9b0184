// Package recompute implements the Recompute Orchestrator (C7): the
// idempotent, atomic rebuild of a (user, month)'s ledger rows and
// projection from source facts (§4.6).
package recompute

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/calendar"
	"github.com/hmb-research/overtime-engine/internal/database"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/kernel"
	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/projection"
)

// Orchestrator implements §4.6's rebuild(userId, month). It is injectable
// with fakes for the store-backed collaborators, per §9's testing-seam
// requirement for the orchestrator. atomic wraps the critical section in
// the (userID, month) advisory lock and the enclosing transaction; New
// wires it to the real Postgres pool, while NewWithAtomic lets tests
// substitute a trivial in-process lock so the rest of the orchestrator
// can run against fake repositories with no database at all.
type Orchestrator struct {
	factsRepo  facts.Repository
	ledgerRepo ledger.Repository
	projRepo   projection.Repository
	oracle     *calendar.Oracle
	uuid       ledger.UUIDGenerator
	now        func() time.Time
	atomic     func(ctx context.Context, userID, month string, fn func(tx pgx.Tx) error) error
}

func New(pool *database.Pool, factsRepo facts.Repository, ledgerRepo ledger.Repository, projRepo projection.Repository, oracle *calendar.Oracle, uuid ledger.UUIDGenerator) *Orchestrator {
	atomic := func(ctx context.Context, userID, month string, fn func(tx pgx.Tx) error) error {
		return pool.WithTx(ctx, func(tx pgx.Tx) error {
			return database.WithUserMonthLock(ctx, tx, userID, month, func() error {
				return fn(tx)
			})
		})
	}
	return NewWithAtomic(atomic, factsRepo, ledgerRepo, projRepo, oracle, uuid)
}

// NewWithAtomic builds an Orchestrator with a caller-supplied atomic
// wrapper, bypassing the Postgres advisory lock entirely. Used by tests
// that exercise the rebuild algorithm against fake repositories.
func NewWithAtomic(atomic func(ctx context.Context, userID, month string, fn func(tx pgx.Tx) error) error, factsRepo facts.Repository, ledgerRepo ledger.Repository, projRepo projection.Repository, oracle *calendar.Oracle, uuid ledger.UUIDGenerator) *Orchestrator {
	return &Orchestrator{
		factsRepo:  factsRepo,
		ledgerRepo: ledgerRepo,
		projRepo:   projRepo,
		oracle:     oracle,
		uuid:       uuid,
		now:        time.Now,
		atomic:     atomic,
	}
}

func monthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// Rebuild implements §4.6's five-step procedure inside a single
// transaction, serialized behind the (userID, month) advisory lock.
func (o *Orchestrator) Rebuild(ctx context.Context, userID string, year int, month time.Month, today time.Time) error {
	return o.atomic(ctx, userID, monthKey(year, month), func(tx pgx.Tx) error {
		return o.rebuildLocked(ctx, tx, userID, year, month, today)
	})
}

func (o *Orchestrator) rebuildLocked(ctx context.Context, tx pgx.Tx, userID string, year int, month time.Month, today time.Time) error {
	factsRepo := o.factsRepo.WithTx(tx)
	ledgerRepo := o.ledgerRepo.WithTx(tx)
	projRepo := o.projRepo.WithTx(tx)

	user, err := factsRepo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)

	windowStart := maxDate(firstOfMonth, civil(user.HireDate))
	windowEnd := lastOfMonth
	if user.EndDate != nil {
		windowEnd = minDate(windowEnd, civil(*user.EndDate))
	}
	if isSameMonth(today, year, month) {
		windowEnd = minDate(windowEnd, civil(today))
	}

	// Step 2: delete all ledger rows for (userId, date in month).
	if err := ledgerRepo.DeleteInMonth(ctx, userID, year, month); err != nil {
		return fmt.Errorf("delete ledger rows: %w", err)
	}

	if windowEnd.Before(windowStart) {
		// The user had no active days this month (e.g. hired after the
		// month ended); still upsert a zeroed projection.
		return projRepo.Upsert(ctx, userID, year, month, decimal.Zero, decimal.Zero)
	}

	// Step 3: starting balance from the most recent remaining row before
	// the first of the month.
	balance, err := ledgerRepo.LatestBefore(ctx, userID, firstOfMonth)
	if err != nil {
		return fmt.Errorf("starting balance: %w", err)
	}

	subj := user.Schedule()
	now := o.now()

	var rows []ledger.Transaction
	var days []kernel.DayResult

	for d := windowStart; !d.After(windowEnd); d = d.AddDate(0, 0, 1) {
		dayFacts, err := o.collectDayFacts(ctx, factsRepo, userID, d)
		if err != nil {
			return fmt.Errorf("collect facts for %s: %w", d.Format("2006-01-02"), err)
		}

		result, err := kernel.Compute(ctx, o.oracle, subj, d, dayFacts)
		if err != nil {
			return fmt.Errorf("compute day %s: %w", d.Format("2006-01-02"), err)
		}
		days = append(days, result)

		dayRows, newBalance, err := ledger.AppendDay(result, balance, now, o.uuid)
		if err != nil {
			return fmt.Errorf("append day %s: %w", d.Format("2006-01-02"), err)
		}
		for i := range dayRows {
			dayRows[i].UserID = userID
		}
		rows = append(rows, dayRows...)
		balance = newBalance
	}

	// Compensation rows are a standalone ledger event (§4.7), not derived
	// from a single day's facts, so they don't come out of the day loop
	// above; regenerate one per approved overtime_comp absence overlapping
	// this window, using the portion of its range that falls inside it.
	compRows, balance, err := o.appendCompensationRows(ctx, factsRepo, userID, subj, windowStart, windowEnd, balance, now)
	if err != nil {
		return fmt.Errorf("compensation rows: %w", err)
	}
	rows = append(rows, compRows...)

	// Step 4: insert the rebuilt rows.
	if len(rows) > 0 {
		if err := ledgerRepo.Insert(ctx, rows); err != nil {
			return fmt.Errorf("insert ledger rows: %w", err)
		}
	}

	// Step 5: upsert the monthly projection.
	targetHours, actualHours := projection.Summarize(days)
	if err := projRepo.Upsert(ctx, userID, year, month, targetHours, actualHours); err != nil {
		return fmt.Errorf("upsert projection: %w", err)
	}

	return nil
}

// appendCompensationRows regenerates the standalone compensation
// transaction for each approved overtime_comp absence overlapping
// [windowStart, windowEnd], clipped to the window so a multi-month
// absence's hours split correctly across each month's rebuild rather than
// double-deducting. Deterministic given the same absence and window, so
// rebuilds stay idempotent (§4.6 P3).
func (o *Orchestrator) appendCompensationRows(ctx context.Context, factsRepo facts.Repository, userID string, subj calendar.Subject, windowStart, windowEnd time.Time, balance decimal.Decimal, now time.Time) ([]ledger.Transaction, decimal.Decimal, error) {
	absences, err := factsRepo.AbsencesOverlapping(ctx, userID, windowStart, windowEnd, facts.AbsenceApproved)
	if err != nil {
		return nil, balance, fmt.Errorf("absences overlapping window: %w", err)
	}

	var rows []ledger.Transaction
	for _, a := range absences {
		if a.Type != facts.AbsenceOvertimeComp {
			continue
		}
		start := maxDate(civil(a.StartDate), windowStart)
		end := minDate(civil(a.EndDate), windowEnd)
		if end.Before(start) {
			continue
		}

		days, hours, err := o.oracle.BusinessDaysAndHours(ctx, subj, start, end, calendar.ExcludeHolidays)
		if err != nil {
			return nil, balance, fmt.Errorf("compensation hours for absence %s: %w", a.ID, err)
		}
		if days == 0 {
			continue
		}

		row, newBalance := ledger.AppendCompensation(userID, a.ID, end, hours, balance, now, o.uuid)
		rows = append(rows, row)
		balance = newBalance
	}
	return rows, balance, nil
}

func (o *Orchestrator) collectDayFacts(ctx context.Context, factsRepo facts.Repository, userID string, d time.Time) (kernel.DayFacts, error) {
	entries, err := factsRepo.TimeEntriesInRange(ctx, userID, d, d)
	if err != nil {
		return kernel.DayFacts{}, err
	}

	absence, err := factsRepo.ApprovedAbsenceOn(ctx, userID, d)
	if err != nil {
		return kernel.DayFacts{}, err
	}

	corrections, err := factsRepo.CorrectionsInRange(ctx, userID, d, d)
	if err != nil {
		return kernel.DayFacts{}, err
	}

	return kernel.DayFacts{TimeEntries: entries, Absence: absence, Corrections: corrections}, nil
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func isSameMonth(today time.Time, year int, month time.Month) bool {
	return today.Year() == year && today.Month() == month
}
