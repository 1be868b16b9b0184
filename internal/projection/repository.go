package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/apierror"
)

// Repository is the overtime_balance store.
type Repository interface {
	// Upsert writes targetHours/actualHours/overtime for (userID, year,
	// month), preserving any existing carryoverFromPreviousYear — only
	// Year-End Rollover sets that column (§4.5).
	Upsert(ctx context.Context, userID string, year int, month time.Month, targetHours, actualHours decimal.Decimal) error
	// SetCarryover is used exclusively by the Year-End Rollover (§4.9).
	SetCarryover(ctx context.Context, userID string, year int, month time.Month, carryover decimal.Decimal) error
	GetMonth(ctx context.Context, userID string, year int, month time.Month) (*MonthlyProjection, error)
	YearBreakdown(ctx context.Context, userID string, year int) ([]MonthlyProjection, error)

	WithTx(tx pgx.Tx) Repository
}

type PostgresRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) WithTx(tx pgx.Tx) Repository {
	return &PostgresRepository{pool: r.pool, tx: tx}
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if r.tx != nil {
		tag, err := r.tx.Exec(ctx, query, args...)
		return tag.RowsAffected(), err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	return tag.RowsAffected(), err
}

func (r *PostgresRepository) queryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	if r.tx != nil {
		return r.tx.QueryRow(ctx, query, args...)
	}
	return r.pool.QueryRow(ctx, query, args...)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	if r.tx != nil {
		return r.tx.Query(ctx, query, args...)
	}
	return r.pool.Query(ctx, query, args...)
}

func monthKey(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID string, year int, month time.Month, targetHours, actualHours decimal.Decimal) error {
	overtime := actualHours.Sub(targetHours).Round(2)
	_, err := r.exec(ctx, `
		INSERT INTO overtime_balance (id, user_id, month, target_hours, actual_hours, overtime, carryover_from_previous_year, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		ON CONFLICT (user_id, month) DO UPDATE SET
			target_hours = EXCLUDED.target_hours,
			actual_hours = EXCLUDED.actual_hours,
			overtime = EXCLUDED.overtime,
			updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), userID, monthKey(year, month), targetHours.Round(2), actualHours.Round(2), overtime, time.Now())
	if err != nil {
		return fmt.Errorf("upsert monthly projection: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetCarryover(ctx context.Context, userID string, year int, month time.Month, carryover decimal.Decimal) error {
	_, err := r.exec(ctx, `
		INSERT INTO overtime_balance (id, user_id, month, target_hours, actual_hours, overtime, carryover_from_previous_year, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, $5)
		ON CONFLICT (user_id, month) DO UPDATE SET
			carryover_from_previous_year = EXCLUDED.carryover_from_previous_year,
			updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), userID, monthKey(year, month), carryover.Round(2), time.Now())
	if err != nil {
		return fmt.Errorf("set carryover: %w", err)
	}
	return nil
}

const projectionColumns = `id, user_id, month, target_hours, actual_hours, overtime, carryover_from_previous_year, updated_at`

func scanProjection(row pgx.Row) (*MonthlyProjection, error) {
	var p MonthlyProjection
	var month time.Time
	if err := row.Scan(&p.ID, &p.UserID, &month, &p.TargetHours, &p.ActualHours, &p.Overtime, &p.CarryoverFromPreviousYear, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Year, p.Month = month.Year(), month.Month()
	return &p, nil
}

func (r *PostgresRepository) GetMonth(ctx context.Context, userID string, year int, month time.Month) (*MonthlyProjection, error) {
	row := r.queryRow(ctx, `SELECT `+projectionColumns+` FROM overtime_balance WHERE user_id = $1 AND month = $2`, userID, monthKey(year, month))
	p, err := scanProjection(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("no projection for user %s in %04d-%02d", userID, year, month)
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly projection: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) YearBreakdown(ctx context.Context, userID string, year int) ([]MonthlyProjection, error) {
	start := monthKey(year, time.January)
	end := monthKey(year+1, time.January)
	rows, err := r.query(ctx, `
		SELECT `+projectionColumns+` FROM overtime_balance
		WHERE user_id = $1 AND month >= $2 AND month < $3
		ORDER BY month`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("year breakdown: %w", err)
	}
	defer rows.Close()

	var out []MonthlyProjection
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
