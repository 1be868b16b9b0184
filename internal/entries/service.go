// Package entries implements the §6 createTimeEntry/updateTimeEntry/
// deleteTimeEntry and createCorrection/deleteCorrection operations: the
// only writers of time_entries/overtime_corrections facts other than the
// absence state machine's own auto-deletion path. Time-entry creates and
// updates go through the non-overlap gate (P6); corrections and deletes
// do not. Every write triggers the same month rebuild that
// internal/absences.Service's transitions do.
package entries

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/apierror"
	"github.com/hmb-research/overtime-engine/internal/database"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/notify"
	"github.com/hmb-research/overtime-engine/internal/recompute"
)

// Service mirrors internal/absences.Service's shape: atomic wraps each
// write in a single transaction, New wires it to the real pool, and
// NewWithAtomic lets tests substitute a trivial no-op wrapper so the rest
// of the service runs against fake repositories with no database at all.
type Service struct {
	facts     facts.Repository
	recompute *recompute.Orchestrator
	uuid      facts.UUIDGenerator
	audit     notify.AuditLogger
	now       func() time.Time
	atomic    func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error
}

func New(
	pool *database.Pool,
	factsRepo facts.Repository,
	orchestrator *recompute.Orchestrator,
	uuid facts.UUIDGenerator,
	audit notify.AuditLogger,
) *Service {
	atomic := func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
		return pool.WithTx(ctx, fn)
	}
	return NewWithAtomic(atomic, factsRepo, orchestrator, uuid, audit)
}

// NewWithAtomic builds a Service with a caller-supplied transaction
// wrapper, bypassing Postgres entirely. Used by tests that exercise the
// gate and rebuild trigger against fake repositories.
func NewWithAtomic(
	atomic func(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error,
	factsRepo facts.Repository,
	orchestrator *recompute.Orchestrator,
	uuid facts.UUIDGenerator,
	audit notify.AuditLogger,
) *Service {
	return &Service{
		facts:     factsRepo,
		recompute: orchestrator,
		uuid:      uuid,
		audit:     audit,
		now:       time.Now,
		atomic:    atomic,
	}
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// checkNoAbsenceConflict implements P6: no approved non-sick absence date
// may carry a time entry. Sick absences are excluded because, unlike
// every other approved absence type, §4.7 auto-approves them without
// running the conflict policy that clears conflicting time entries first.
func checkNoAbsenceConflict(ctx context.Context, factsRepo facts.Repository, userID string, date time.Time) error {
	a, err := factsRepo.ApprovedAbsenceOn(ctx, userID, date)
	if err != nil {
		return err
	}
	if a != nil && a.Type != facts.AbsenceSick {
		return apierror.Conflict("date %s is covered by approved absence %s", date.Format("2006-01-02"), a.ID)
	}
	return nil
}

func (s *Service) rebuildMonth(ctx context.Context, userID string, date time.Time) error {
	return s.recompute.Rebuild(ctx, userID, date.Year(), date.Month(), s.now())
}

// TimeEntryInput is the writable subset of facts.TimeEntry shared by
// CreateTimeEntry and UpdateTimeEntry.
type TimeEntryInput struct {
	Date         time.Time
	Hours        decimal.Decimal
	BreakMinutes int
	StartTime    *time.Time
	EndTime      *time.Time
	Location     facts.Location
}

// CreateTimeEntry validates the entry against P6, persists it, then
// rebuilds the entry's month so the ledger and projection reflect it.
func (s *Service) CreateTimeEntry(ctx context.Context, userID string, in TimeEntryInput) (*facts.TimeEntry, error) {
	if in.Hours.IsNegative() {
		return nil, apierror.Validation("hours must not be negative")
	}
	date := civil(in.Date)

	var created *facts.TimeEntry
	err := s.atomic(ctx, userID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)

		if err := checkNoAbsenceConflict(ctx, factsRepo, userID, date); err != nil {
			return err
		}

		now := s.now()
		created = &facts.TimeEntry{
			ID:           s.uuid.New(),
			UserID:       userID,
			Date:         date,
			Hours:        in.Hours,
			BreakMinutes: in.BreakMinutes,
			StartTime:    in.StartTime,
			EndTime:      in.EndTime,
			Location:     in.Location,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return factsRepo.CreateTimeEntry(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebuildMonth(ctx, userID, date); err != nil {
		return created, err
	}
	s.audit.Record(ctx, userID, "create_time_entry", "time_entry", created.ID, map[string]interface{}{"date": date.Format("2006-01-02"), "hours": created.Hours.String()})
	return created, nil
}

// UpdateTimeEntry re-runs the P6 gate against the (possibly changed)
// date, persists the change, then rebuilds the old and, if it moved, the
// new month.
func (s *Service) UpdateTimeEntry(ctx context.Context, userID, id string, in TimeEntryInput) (*facts.TimeEntry, error) {
	if in.Hours.IsNegative() {
		return nil, apierror.Validation("hours must not be negative")
	}
	newDate := civil(in.Date)

	var updated *facts.TimeEntry
	var oldDate time.Time
	err := s.atomic(ctx, userID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)

		existing, err := factsRepo.GetTimeEntry(ctx, id)
		if err != nil {
			return err
		}
		if existing.UserID != userID {
			return apierror.NotFound("time entry %s not found", id)
		}
		oldDate = existing.Date

		if err := checkNoAbsenceConflict(ctx, factsRepo, userID, newDate); err != nil {
			return err
		}

		existing.Date = newDate
		existing.Hours = in.Hours
		existing.BreakMinutes = in.BreakMinutes
		existing.StartTime = in.StartTime
		existing.EndTime = in.EndTime
		existing.Location = in.Location
		if err := factsRepo.UpdateTimeEntry(ctx, existing); err != nil {
			return err
		}
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebuildMonth(ctx, userID, oldDate); err != nil {
		return updated, err
	}
	if !oldDate.Equal(newDate) {
		if err := s.rebuildMonth(ctx, userID, newDate); err != nil {
			return updated, err
		}
	}
	s.audit.Record(ctx, userID, "update_time_entry", "time_entry", updated.ID, map[string]interface{}{"date": newDate.Format("2006-01-02")})
	return updated, nil
}

// DeleteTimeEntry deletes the entry and rebuilds its month.
func (s *Service) DeleteTimeEntry(ctx context.Context, userID, id string) (*facts.TimeEntry, error) {
	var deleted *facts.TimeEntry
	err := s.atomic(ctx, userID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		existing, err := factsRepo.GetTimeEntry(ctx, id)
		if err != nil {
			return err
		}
		if existing.UserID != userID {
			return apierror.NotFound("time entry %s not found", id)
		}
		deleted, err = factsRepo.DeleteTimeEntry(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebuildMonth(ctx, userID, deleted.Date); err != nil {
		return deleted, err
	}
	s.audit.Record(ctx, userID, "delete_time_entry", "time_entry", deleted.ID, map[string]interface{}{"date": deleted.Date.Format("2006-01-02")})
	return deleted, nil
}

// CorrectionInput is the writable subset of facts.OvertimeCorrection for
// CreateCorrection.
type CorrectionInput struct {
	Date           time.Time
	Hours          decimal.Decimal
	Reason         string
	CorrectionType facts.CorrectionType
	CreatedBy      string
}

// CreateCorrection persists a manual overtime correction and rebuilds its
// month (§6 createCorrection). Reason must be at least 10 characters, the
// same minimum the rest of the engine's Reason-bearing operations imply.
func (s *Service) CreateCorrection(ctx context.Context, userID string, in CorrectionInput) (*facts.OvertimeCorrection, error) {
	if len(in.Reason) < 10 {
		return nil, apierror.Validation("reason must be at least 10 characters")
	}
	date := civil(in.Date)

	var created *facts.OvertimeCorrection
	err := s.atomic(ctx, userID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		created = &facts.OvertimeCorrection{
			ID:             s.uuid.New(),
			UserID:         userID,
			Date:           date,
			Hours:          in.Hours,
			Reason:         in.Reason,
			CorrectionType: in.CorrectionType,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      s.now(),
		}
		return factsRepo.CreateCorrection(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebuildMonth(ctx, userID, date); err != nil {
		return created, err
	}
	s.audit.Record(ctx, in.CreatedBy, "create_correction", "overtime_correction", created.ID, map[string]interface{}{"date": date.Format("2006-01-02"), "hours": created.Hours.String()})
	return created, nil
}

// DeleteCorrection removes a correction and rebuilds its month.
func (s *Service) DeleteCorrection(ctx context.Context, userID, id, actorID string) (*facts.OvertimeCorrection, error) {
	var deleted *facts.OvertimeCorrection
	err := s.atomic(ctx, userID, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		var err error
		deleted, err = factsRepo.DeleteCorrection(ctx, id)
		if err != nil {
			return err
		}
		if deleted.UserID != userID {
			return apierror.NotFound("correction %s not found", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.rebuildMonth(ctx, userID, deleted.Date); err != nil {
		return deleted, err
	}
	s.audit.Record(ctx, actorID, "delete_correction", "overtime_correction", deleted.ID, map[string]interface{}{"date": deleted.Date.Format("2006-01-02")})
	return deleted, nil
}
