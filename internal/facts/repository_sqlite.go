//go:build sqlite

package facts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hmb-research/overtime-engine/internal/apierror"
)

// SQLiteRepository is the embedded single-file deployment mode of the
// Source Fact Store: a single operator running the engine for a small
// team without standing up Postgres. It speaks the same schema shape as
// PostgresRepository, with `?` placeholders instead of `$N` and a single
// *sql.Tx instead of pgx.Tx. sqlite has no advisory locks, and this type
// provides no per-(user, month) lock of its own; the Postgres path's
// pg_advisory_xact_lock lives in internal/database.
type SQLiteRepository struct {
	db *sql.DB
	tx *sql.Tx
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) WithSQLTx(tx *sql.Tx) *SQLiteRepository {
	return &SQLiteRepository{db: r.db, tx: tx}
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var result sql.Result
	var err error
	if r.tx != nil {
		result, err = r.tx.ExecContext(ctx, query, args...)
	} else {
		result, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLiteRepository) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if r.tx != nil {
		return r.tx.QueryRowContext(ctx, query, args...)
	}
	return r.db.QueryRowContext(ctx, query, args...)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if r.tx != nil {
		return r.tx.QueryContext(ctx, query, args...)
	}
	return r.db.QueryContext(ctx, query, args...)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	row := r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	u, err := scanSQLiteUser(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.query(ctx, `SELECT `+userColumns+` FROM users WHERE status = ? ORDER BY id`, UserActive)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) UpdateUserSchedule(ctx context.Context, u *User) error {
	_, err := r.exec(ctx, `
		UPDATE users SET weekly_hours = ?, work_schedule = ?, hire_date = ?, end_date = ?, updated_at = ?
		WHERE id = ?`,
		u.WeeklyHours, workScheduleColumn{schedule: u.WorkSchedule}, u.HireDate, u.EndDate, time.Now(), u.ID)
	return err
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which satisfy
// Scan with the same signature.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteUser(row rowScanner) (*User, error) {
	var u User
	var workSchedule workScheduleColumn
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Status,
		&u.WeeklyHours, &workSchedule, &u.VacationDaysPerYear, &u.HireDate, &u.EndDate,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.WorkSchedule = workSchedule.schedule
	return &u, nil
}

func (r *SQLiteRepository) CreateTimeEntry(ctx context.Context, te *TimeEntry) error {
	_, err := r.exec(ctx, `
		INSERT INTO time_entries (`+timeEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		te.ID, te.UserID, te.Date, te.Hours, te.BreakMinutes, te.StartTime, te.EndTime,
		te.Location, te.CreatedAt, te.UpdatedAt)
	return err
}

func (r *SQLiteRepository) UpdateTimeEntry(ctx context.Context, te *TimeEntry) error {
	n, err := r.exec(ctx, `
		UPDATE time_entries SET date = ?, hours = ?, break_minutes = ?, start_time = ?,
			end_time = ?, location = ?, updated_at = ?
		WHERE id = ?`,
		te.Date, te.Hours, te.BreakMinutes, te.StartTime, te.EndTime, te.Location, time.Now(), te.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierror.NotFound("time entry %s not found", te.ID)
	}
	return nil
}

func (r *SQLiteRepository) GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	row := r.queryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = ?`, id)
	te, err := scanSQLiteTimeEntry(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("time entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get time entry: %w", err)
	}
	return te, nil
}

func scanSQLiteTimeEntry(row rowScanner) (*TimeEntry, error) {
	var te TimeEntry
	if err := row.Scan(
		&te.ID, &te.UserID, &te.Date, &te.Hours, &te.BreakMinutes, &te.StartTime, &te.EndTime,
		&te.Location, &te.CreatedAt, &te.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &te, nil
}

func (r *SQLiteRepository) DeleteTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	te, err := r.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.exec(ctx, `DELETE FROM time_entries WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return te, nil
}

func (r *SQLiteRepository) TimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	rows, err := r.query(ctx, `
		SELECT `+timeEntryColumns+` FROM time_entries
		WHERE user_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("time entries in range: %w", err)
	}
	defer rows.Close()

	var entries []TimeEntry
	for rows.Next() {
		te, err := scanSQLiteTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *te)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) DeleteTimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	deleted, err := r.TimeEntriesInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	if _, err := r.exec(ctx, `DELETE FROM time_entries WHERE user_id = ? AND date BETWEEN ? AND ?`, userID, start, end); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *SQLiteRepository) CreateAbsence(ctx context.Context, a *AbsenceRequest) error {
	_, err := r.exec(ctx, `
		INSERT INTO absence_requests (`+absenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Type, a.StartDate, a.EndDate, a.Days, a.Status, a.Reason,
		a.ApprovedBy, a.ApprovedAt, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *SQLiteRepository) UpdateAbsence(ctx context.Context, a *AbsenceRequest) error {
	n, err := r.exec(ctx, `
		UPDATE absence_requests SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
		WHERE id = ?`,
		a.Status, a.ApprovedBy, a.ApprovedAt, time.Now(), a.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierror.NotFound("absence %s not found", a.ID)
	}
	return nil
}

func scanSQLiteAbsence(row rowScanner) (*AbsenceRequest, error) {
	var a AbsenceRequest
	if err := row.Scan(
		&a.ID, &a.UserID, &a.Type, &a.StartDate, &a.EndDate, &a.Days, &a.Status, &a.Reason,
		&a.ApprovedBy, &a.ApprovedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) GetAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	row := r.queryRow(ctx, `SELECT `+absenceColumns+` FROM absence_requests WHERE id = ?`, id)
	a, err := scanSQLiteAbsence(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("absence %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get absence: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) DeleteAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	a, err := r.GetAbsence(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.exec(ctx, `DELETE FROM absence_requests WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *SQLiteRepository) AbsencesOverlapping(ctx context.Context, userID string, start, end time.Time, statuses ...AbsenceStatus) ([]AbsenceRequest, error) {
	query := `SELECT ` + absenceColumns + ` FROM absence_requests WHERE user_id = ? AND start_date <= ? AND end_date >= ?`
	args := []interface{}{userID, end, start}
	if len(statuses) > 0 {
		placeholders := ""
		for i, s := range statuses {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, s)
		}
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
	}
	query += " ORDER BY start_date"

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("absences overlapping: %w", err)
	}
	defer rows.Close()

	var absences []AbsenceRequest
	for rows.Next() {
		a, err := scanSQLiteAbsence(rows)
		if err != nil {
			return nil, err
		}
		absences = append(absences, *a)
	}
	return absences, rows.Err()
}

func (r *SQLiteRepository) ApprovedAbsenceOn(ctx context.Context, userID string, date time.Time) (*AbsenceRequest, error) {
	row := r.queryRow(ctx, `
		SELECT `+absenceColumns+` FROM absence_requests
		WHERE user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?
		LIMIT 1`, userID, AbsenceApproved, date, date)
	a, err := scanSQLiteAbsence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approved absence on date: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) CreateCorrection(ctx context.Context, c *OvertimeCorrection) error {
	_, err := r.exec(ctx, `
		INSERT INTO overtime_corrections (`+correctionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Date, c.Hours, c.Reason, c.CorrectionType, c.CreatedBy, c.CreatedAt)
	return err
}

func (r *SQLiteRepository) DeleteCorrection(ctx context.Context, id string) (*OvertimeCorrection, error) {
	row := r.queryRow(ctx, `SELECT `+correctionColumns+` FROM overtime_corrections WHERE id = ?`, id)
	c, err := scanSQLiteCorrection(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("correction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get correction: %w", err)
	}
	if _, err := r.exec(ctx, `DELETE FROM overtime_corrections WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return c, nil
}

func scanSQLiteCorrection(row rowScanner) (*OvertimeCorrection, error) {
	var c OvertimeCorrection
	if err := row.Scan(&c.ID, &c.UserID, &c.Date, &c.Hours, &c.Reason, &c.CorrectionType, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) CorrectionsInRange(ctx context.Context, userID string, start, end time.Time) ([]OvertimeCorrection, error) {
	rows, err := r.query(ctx, `
		SELECT `+correctionColumns+` FROM overtime_corrections
		WHERE user_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("corrections in range: %w", err)
	}
	defer rows.Close()

	var corrections []OvertimeCorrection
	for rows.Next() {
		c, err := scanSQLiteCorrection(rows)
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, *c)
	}
	return corrections, rows.Err()
}

func (r *SQLiteRepository) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var exists int
	err := r.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM holidays WHERE date = ?)`, date).Scan(&exists)
	return exists != 0, err
}

func (r *SQLiteRepository) UpsertHoliday(ctx context.Context, h *Holiday) error {
	_, err := r.exec(ctx, `
		INSERT INTO holidays (date, name, federal) VALUES (?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET name = excluded.name, federal = excluded.federal`,
		h.Date, h.Name, h.Federal)
	return err
}

func (r *SQLiteRepository) GetVacationBalance(ctx context.Context, userID string, year int) (*VacationBalance, error) {
	row := r.queryRow(ctx, `SELECT `+vacationBalanceColumns+` FROM vacation_balance WHERE user_id = ? AND year = ?`, userID, year)
	v, err := scanSQLiteVacationBalance(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("no vacation balance for user %s in %d", userID, year)
	}
	if err != nil {
		return nil, fmt.Errorf("get vacation balance: %w", err)
	}
	return v, nil
}

func scanSQLiteVacationBalance(row rowScanner) (*VacationBalance, error) {
	var v VacationBalance
	if err := row.Scan(&v.ID, &v.UserID, &v.Year, &v.Entitlement, &v.Carryover, &v.Taken, &v.Pending, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *SQLiteRepository) UpsertVacationBalance(ctx context.Context, v *VacationBalance) error {
	_, err := r.exec(ctx, `
		INSERT INTO vacation_balance (`+vacationBalanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, year) DO UPDATE SET
			entitlement = excluded.entitlement,
			carryover = excluded.carryover,
			taken = excluded.taken,
			pending = excluded.pending,
			updated_at = excluded.updated_at`,
		v.ID, v.UserID, v.Year, v.Entitlement, v.Carryover, v.Taken, v.Pending, v.UpdatedAt)
	return err
}

func (r *SQLiteRepository) HolidaysInYear(ctx context.Context, year int) ([]Holiday, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
	rows, err := r.query(ctx, `SELECT date, name, federal FROM holidays WHERE date BETWEEN ? AND ? ORDER BY date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("holidays in year: %w", err)
	}
	defer rows.Close()

	var holidays []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.Date, &h.Name, &h.Federal); err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}
