// Package rollover implements the Year-End Rollover (C9): at civil date
// Jan-1 00:05 of year Y+1, or on admin demand, every active user's
// overtime and vacation balances carry from year Y into Y+1 (§4.9).
package rollover

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/apierror"
	"github.com/hmb-research/overtime-engine/internal/config"
	"github.com/hmb-research/overtime-engine/internal/database"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/notify"
	"github.com/hmb-research/overtime-engine/internal/projection"
)

// UserCarryover is the per-user result of computing (not necessarily
// persisting) one year's rollover.
type UserCarryover struct {
	UserID              string
	OvertimeCarryover   decimal.Decimal
	VacationCarryover   decimal.Decimal
	VacationEntitlement decimal.Decimal
}

// Result is the full-year rollover outcome, returned by both Perform and
// Preview so operators can diff a preview against what Perform would do.
type Result struct {
	Year  int
	Users []UserCarryover
}

// Service implements §4.9. atomic wraps Perform's writes in a single
// transaction spanning every active user: either all carryovers are
// written, or none (§4.9 step 3). Preview never touches atomic at all.
type Service struct {
	facts           facts.Repository
	ledgerRepo      ledger.Repository
	projRepo        projection.Repository
	uuid            facts.UUIDGenerator
	audit           notify.AuditLogger
	carryoverPolicy config.CarryoverVacationPolicy
	now             func() time.Time
	atomic          func(ctx context.Context, fn func(tx pgx.Tx) error) error
}

func New(
	pool *database.Pool,
	factsRepo facts.Repository,
	ledgerRepo ledger.Repository,
	projRepo projection.Repository,
	uuid facts.UUIDGenerator,
	audit notify.AuditLogger,
	carryoverPolicy config.CarryoverVacationPolicy,
) *Service {
	atomic := func(ctx context.Context, fn func(tx pgx.Tx) error) error {
		return pool.WithTx(ctx, fn)
	}
	return NewWithAtomic(atomic, factsRepo, ledgerRepo, projRepo, uuid, audit, carryoverPolicy)
}

// NewWithAtomic builds a Service with a caller-supplied transaction
// wrapper, the same seam internal/recompute and internal/absences use to
// run against fake repositories in tests.
func NewWithAtomic(
	atomic func(ctx context.Context, fn func(tx pgx.Tx) error) error,
	factsRepo facts.Repository,
	ledgerRepo ledger.Repository,
	projRepo projection.Repository,
	uuid facts.UUIDGenerator,
	audit notify.AuditLogger,
	carryoverPolicy config.CarryoverVacationPolicy,
) *Service {
	return &Service{
		facts:           factsRepo,
		ledgerRepo:      ledgerRepo,
		projRepo:        projRepo,
		uuid:            uuid,
		audit:           audit,
		carryoverPolicy: carryoverPolicy,
		now:             time.Now,
		atomic:          atomic,
	}
}

const vacationCarryoverCap = 5

func capCarryover(policy config.CarryoverVacationPolicy, remaining decimal.Decimal) decimal.Decimal {
	if remaining.IsNegative() {
		return decimal.Zero
	}
	if policy == config.CarryoverCapped5 {
		cap := decimal.NewFromInt(vacationCarryoverCap)
		if remaining.GreaterThan(cap) {
			return cap
		}
	}
	return remaining
}

// computeUser implements §4.9 steps 1-2 for one user: the overtime
// balance as of the last day of year, and the capped vacation carryover
// plus the following year's fresh entitlement. It never writes anything,
// so Perform and Preview can share it.
func (s *Service) computeUser(ctx context.Context, factsRepo facts.Repository, ledgerRepo ledger.Repository, user *facts.User, year int) (UserCarryover, error) {
	lastDay := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	overtimeBalance, err := ledgerRepo.LatestAsOf(ctx, user.ID, lastDay)
	if err != nil {
		if !apierror.Is(err, apierror.KindNotFound) {
			return UserCarryover{}, fmt.Errorf("overtime balance for %s: %w", user.ID, err)
		}
		overtimeBalance = decimal.Zero
	}

	remaining := decimal.Zero
	prevVacation, err := factsRepo.GetVacationBalance(ctx, user.ID, year)
	if err == nil {
		remaining = prevVacation.Remaining()
	} else if !apierror.Is(err, apierror.KindNotFound) {
		return UserCarryover{}, fmt.Errorf("vacation balance for %s: %w", user.ID, err)
	}

	return UserCarryover{
		UserID:              user.ID,
		OvertimeCarryover:   overtimeBalance,
		VacationCarryover:   capCarryover(s.carryoverPolicy, remaining),
		VacationEntitlement: decimal.NewFromInt(int64(user.VacationDaysPerYear)),
	}, nil
}

// Preview computes what Perform would write for every active user,
// without persisting anything, for operator review (§4.9).
func (s *Service) Preview(ctx context.Context, year int) (Result, error) {
	users, err := s.facts.ListActiveUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active users: %w", err)
	}

	result := Result{Year: year}
	for _, u := range users {
		uc, err := s.computeUser(ctx, s.facts, s.ledgerRepo, u, year)
		if err != nil {
			return Result{}, err
		}
		result.Users = append(result.Users, uc)
	}
	return result, nil
}

// Perform implements §4.9 in full: every active user's carryover is
// computed and written inside a single transaction, with one audit
// entry per user. A failure partway through rolls back every write made
// so far, leaving no user half-rolled-over.
func (s *Service) Perform(ctx context.Context, year int) (Result, error) {
	result := Result{Year: year}

	err := s.atomic(ctx, func(tx pgx.Tx) error {
		factsRepo := s.facts.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		projRepo := s.projRepo.WithTx(tx)

		users, err := factsRepo.ListActiveUsers(ctx)
		if err != nil {
			return fmt.Errorf("list active users: %w", err)
		}

		now := s.now()
		for _, u := range users {
			uc, err := s.computeUser(ctx, factsRepo, ledgerRepo, u, year)
			if err != nil {
				return err
			}

			if err := projRepo.SetCarryover(ctx, u.ID, year+1, time.January, uc.OvertimeCarryover); err != nil {
				return fmt.Errorf("set overtime carryover for %s: %w", u.ID, err)
			}

			newBalance := &facts.VacationBalance{
				ID:          s.uuid.New(),
				UserID:      u.ID,
				Year:        year + 1,
				Entitlement: uc.VacationEntitlement,
				Carryover:   uc.VacationCarryover,
				Taken:       decimal.Zero,
				Pending:     decimal.Zero,
				UpdatedAt:   now,
			}
			if err := factsRepo.UpsertVacationBalance(ctx, newBalance); err != nil {
				return fmt.Errorf("write vacation balance for %s: %w", u.ID, err)
			}

			result.Users = append(result.Users, uc)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, uc := range result.Users {
		s.audit.Record(ctx, "system", "year_end_rollover", "user", uc.UserID, map[string]interface{}{
			"year":                 year,
			"overtime_carryover":   uc.OvertimeCarryover.String(),
			"vacation_carryover":   uc.VacationCarryover.String(),
			"vacation_entitlement": uc.VacationEntitlement.String(),
		})
	}
	return result, nil
}
