package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hmb-research/overtime-engine/internal/apierror"
)

// Repository is the overtime_transactions store the Recompute Orchestrator
// and the read-only balance/report operations (§6) use.
type Repository interface {
	// DeleteInMonth removes every row for (userID, month) — §4.6 step 2.
	DeleteInMonth(ctx context.Context, userID string, year int, month time.Month) error
	// Insert appends rows in the order given; callers must have already
	// computed BalanceBefore/BalanceAfter via AppendDay/AppendCompensation.
	Insert(ctx context.Context, rows []Transaction) error
	// LatestBefore returns the balanceAfter of the most recent row with
	// date < before, or zero if none exists (§4.4's starting-balance rule).
	LatestBefore(ctx context.Context, userID string, before time.Time) (decimal.Decimal, error)
	// LatestAsOf returns the balanceAfter of the most recent row with
	// date <= asOf (§6 balance(userId, asOfDate?)).
	LatestAsOf(ctx context.Context, userID string, asOf time.Time) (decimal.Decimal, error)
	// InRange returns rows for (userID, date in [start, end]) ordered by
	// (date, id), the order P1's running-sum invariant is defined over.
	InRange(ctx context.Context, userID string, start, end time.Time) ([]Transaction, error)

	WithTx(tx pgx.Tx) Repository
}

// PostgresRepository is the primary implementation, raw pgx, composable
// into the orchestrator's single caller-managed transaction.
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

func (r *PostgresRepository) DeleteInMonth(ctx context.Context, userID string, year int, month time.Month) error {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	_, err := r.exec(ctx, `DELETE FROM overtime_transactions WHERE user_id = $1 AND date >= $2 AND date < $3`, userID, start, end)
	if err != nil {
		return fmt.Errorf("delete ledger rows in month: %w", err)
	}
	return nil
}

const transactionColumns = `id, user_id, date, type, hours, balance_before, balance_after,
	description, reference_type, reference_id, created_at`

func (r *PostgresRepository) Insert(ctx context.Context, rows []Transaction) error {
	for _, t := range rows {
		_, err := r.exec(ctx, `
			INSERT INTO overtime_transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.UserID, t.Date, t.Type, t.Hours, t.BalanceBefore, t.BalanceAfter,
			t.Description, t.ReferenceType, nullableString(t.ReferenceID), t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger row: %w", err)
		}
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *PostgresRepository) LatestBefore(ctx context.Context, userID string, before time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.queryRow(ctx, `
		SELECT balance_after FROM overtime_transactions
		WHERE user_id = $1 AND date < $2
		ORDER BY date DESC, id DESC LIMIT 1`, userID, before).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest balance before: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) LatestAsOf(ctx context.Context, userID string, asOf time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.queryRow(ctx, `
		SELECT balance_after FROM overtime_transactions
		WHERE user_id = $1 AND date <= $2
		ORDER BY date DESC, id DESC LIMIT 1`, userID, asOf).Scan(&balance)
	if err == pgx.ErrNoRows {
		return decimal.Zero, apierror.NotFound("no ledger rows for user %s as of %s", userID, asOf.Format("2006-01-02"))
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest balance as of: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) InRange(ctx context.Context, userID string, start, end time.Time) ([]Transaction, error) {
	rows, err := r.query(ctx, `
		SELECT `+transactionColumns+` FROM overtime_transactions
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("ledger rows in range: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var referenceID *string
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Date, &t.Type, &t.Hours, &t.BalanceBefore, &t.BalanceAfter,
			&t.Description, &t.ReferenceType, &referenceID, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		if referenceID != nil {
			t.ReferenceID = *referenceID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
