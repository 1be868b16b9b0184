package facts

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

// Repository is the Source Fact Store contract every other component in
// the engine reads from and writes through. The Postgres implementation
// below is the primary one; repository_gorm.go and repository_sqlite.go
// provide alternates selected by build tag.
type Repository interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	ListActiveUsers(ctx context.Context) ([]*User, error)
	UpdateUserSchedule(ctx context.Context, u *User) error

	CreateTimeEntry(ctx context.Context, te *TimeEntry) error
	UpdateTimeEntry(ctx context.Context, te *TimeEntry) error
	GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error)
	DeleteTimeEntry(ctx context.Context, id string) (*TimeEntry, error)
	TimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error)
	DeleteTimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error)

	CreateAbsence(ctx context.Context, a *AbsenceRequest) error
	UpdateAbsence(ctx context.Context, a *AbsenceRequest) error
	GetAbsence(ctx context.Context, id string) (*AbsenceRequest, error)
	DeleteAbsence(ctx context.Context, id string) (*AbsenceRequest, error)
	AbsencesOverlapping(ctx context.Context, userID string, start, end time.Time, statuses ...AbsenceStatus) ([]AbsenceRequest, error)
	ApprovedAbsenceOn(ctx context.Context, userID string, date time.Time) (*AbsenceRequest, error)

	CreateCorrection(ctx context.Context, c *OvertimeCorrection) error
	DeleteCorrection(ctx context.Context, id string) (*OvertimeCorrection, error)
	CorrectionsInRange(ctx context.Context, userID string, start, end time.Time) ([]OvertimeCorrection, error)

	IsHoliday(ctx context.Context, date time.Time) (bool, error)
	UpsertHoliday(ctx context.Context, h *Holiday) error
	HolidaysInYear(ctx context.Context, year int) ([]Holiday, error)

	GetVacationBalance(ctx context.Context, userID string, year int) (*VacationBalance, error)
	UpsertVacationBalance(ctx context.Context, v *VacationBalance) error

	WithTx(tx pgx.Tx) Repository
}

// UUIDGenerator lets services inject deterministic ids in tests, the same
// seam the teacher uses for payroll entities.
type UUIDGenerator interface {
	New() string
}

type DefaultUUIDGenerator struct{}

func (DefaultUUIDGenerator) New() string { return uuid.New().String() }

// PostgresRepository is the primary store implementation, raw pgx with no
// ORM in between -- every write the orchestrator issues needs to compose
// into a single caller-managed transaction (§7), so the repository must
// accept either a pool or an inherited tx.
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

const userColumns = `id, username, email, first_name, last_name, role, status,
	weekly_hours, work_schedule, vacation_days_per_year, hire_date, end_date,
	created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
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

func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	row := r.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.query(ctx, `SELECT `+userColumns+` FROM users WHERE status = $1 ORDER BY id`, UserActive)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) UpdateUserSchedule(ctx context.Context, u *User) error {
	_, err := r.exec(ctx, `
		UPDATE users SET weekly_hours = $1, work_schedule = $2, hire_date = $3, end_date = $4, updated_at = $5
		WHERE id = $6`,
		u.WeeklyHours, workScheduleColumn{schedule: u.WorkSchedule}, u.HireDate, u.EndDate, time.Now(), u.ID)
	return err
}

const timeEntryColumns = `id, user_id, date, hours, break_minutes, start_time, end_time, location, created_at, updated_at`

func scanTimeEntry(row pgx.Row) (*TimeEntry, error) {
	var te TimeEntry
	if err := row.Scan(
		&te.ID, &te.UserID, &te.Date, &te.Hours, &te.BreakMinutes, &te.StartTime, &te.EndTime,
		&te.Location, &te.CreatedAt, &te.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &te, nil
}

func (r *PostgresRepository) CreateTimeEntry(ctx context.Context, te *TimeEntry) error {
	_, err := r.exec(ctx, `
		INSERT INTO time_entries (`+timeEntryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		te.ID, te.UserID, te.Date, te.Hours, te.BreakMinutes, te.StartTime, te.EndTime,
		te.Location, te.CreatedAt, te.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateTimeEntry(ctx context.Context, te *TimeEntry) error {
	n, err := r.exec(ctx, `
		UPDATE time_entries SET date = $1, hours = $2, break_minutes = $3, start_time = $4,
			end_time = $5, location = $6, updated_at = $7
		WHERE id = $8`,
		te.Date, te.Hours, te.BreakMinutes, te.StartTime, te.EndTime, te.Location, time.Now(), te.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierror.NotFound("time entry %s not found", te.ID)
	}
	return nil
}

func (r *PostgresRepository) GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	row := r.queryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1`, id)
	te, err := scanTimeEntry(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("time entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get time entry: %w", err)
	}
	return te, nil
}

func (r *PostgresRepository) DeleteTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	te, err := r.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.exec(ctx, `DELETE FROM time_entries WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return te, nil
}

func (r *PostgresRepository) TimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	rows, err := r.query(ctx, `
		SELECT `+timeEntryColumns+` FROM time_entries
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("time entries in range: %w", err)
	}
	defer rows.Close()

	var entries []TimeEntry
	for rows.Next() {
		te, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *te)
	}
	return entries, rows.Err()
}

// DeleteTimeEntriesInRange implements the §4.7/§4.8 auto-deletion of
// conflicting time entries on absence approval, returning what it deleted
// so the caller can emit a notification describing it.
func (r *PostgresRepository) DeleteTimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	deleted, err := r.TimeEntriesInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	if _, err := r.exec(ctx, `
		DELETE FROM time_entries WHERE user_id = $1 AND date BETWEEN $2 AND $3`, userID, start, end); err != nil {
		return nil, err
	}
	return deleted, nil
}

const absenceColumns = `id, user_id, type, start_date, end_date, days, status, reason,
	approved_by, approved_at, created_at, updated_at`

func scanAbsence(row pgx.Row) (*AbsenceRequest, error) {
	var a AbsenceRequest
	if err := row.Scan(
		&a.ID, &a.UserID, &a.Type, &a.StartDate, &a.EndDate, &a.Days, &a.Status, &a.Reason,
		&a.ApprovedBy, &a.ApprovedAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) CreateAbsence(ctx context.Context, a *AbsenceRequest) error {
	_, err := r.exec(ctx, `
		INSERT INTO absence_requests (`+absenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.UserID, a.Type, a.StartDate, a.EndDate, a.Days, a.Status, a.Reason,
		a.ApprovedBy, a.ApprovedAt, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateAbsence(ctx context.Context, a *AbsenceRequest) error {
	n, err := r.exec(ctx, `
		UPDATE absence_requests SET status = $1, approved_by = $2, approved_at = $3, updated_at = $4
		WHERE id = $5`,
		a.Status, a.ApprovedBy, a.ApprovedAt, time.Now(), a.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierror.NotFound("absence %s not found", a.ID)
	}
	return nil
}

func (r *PostgresRepository) GetAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	row := r.queryRow(ctx, `SELECT `+absenceColumns+` FROM absence_requests WHERE id = $1`, id)
	a, err := scanAbsence(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("absence %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get absence: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) DeleteAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	a, err := r.GetAbsence(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.exec(ctx, `DELETE FROM absence_requests WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return a, nil
}

// AbsencesOverlapping returns absences of the given statuses (any status
// if none given) overlapping [start, end] per the §4.7 half-open rule.
func (r *PostgresRepository) AbsencesOverlapping(ctx context.Context, userID string, start, end time.Time, statuses ...AbsenceStatus) ([]AbsenceRequest, error) {
	query := `
		SELECT ` + absenceColumns + ` FROM absence_requests
		WHERE user_id = $1 AND start_date <= $2 AND end_date >= $3`
	args := []interface{}{userID, end, start}
	if len(statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args)+1)
		args = append(args, statuses)
	}
	query += " ORDER BY start_date"

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("absences overlapping: %w", err)
	}
	defer rows.Close()

	var absences []AbsenceRequest
	for rows.Next() {
		a, err := scanAbsence(rows)
		if err != nil {
			return nil, err
		}
		absences = append(absences, *a)
	}
	return absences, rows.Err()
}

// ApprovedAbsenceOn returns the single approved absence covering date, or
// nil. The §3 overlap invariant guarantees at most one exists.
func (r *PostgresRepository) ApprovedAbsenceOn(ctx context.Context, userID string, date time.Time) (*AbsenceRequest, error) {
	row := r.queryRow(ctx, `
		SELECT `+absenceColumns+` FROM absence_requests
		WHERE user_id = $1 AND status = $2 AND start_date <= $3 AND end_date >= $3
		LIMIT 1`, userID, AbsenceApproved, date)
	a, err := scanAbsence(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approved absence on date: %w", err)
	}
	return a, nil
}

const correctionColumns = `id, user_id, date, hours, reason, correction_type, created_by, created_at`

func scanCorrection(row pgx.Row) (*OvertimeCorrection, error) {
	var c OvertimeCorrection
	if err := row.Scan(&c.ID, &c.UserID, &c.Date, &c.Hours, &c.Reason, &c.CorrectionType, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreateCorrection(ctx context.Context, c *OvertimeCorrection) error {
	_, err := r.exec(ctx, `
		INSERT INTO overtime_corrections (`+correctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Date, c.Hours, c.Reason, c.CorrectionType, c.CreatedBy, c.CreatedAt)
	return err
}

func (r *PostgresRepository) DeleteCorrection(ctx context.Context, id string) (*OvertimeCorrection, error) {
	row := r.queryRow(ctx, `SELECT `+correctionColumns+` FROM overtime_corrections WHERE id = $1`, id)
	c, err := scanCorrection(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("correction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get correction: %w", err)
	}
	if _, err := r.exec(ctx, `DELETE FROM overtime_corrections WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) CorrectionsInRange(ctx context.Context, userID string, start, end time.Time) ([]OvertimeCorrection, error) {
	rows, err := r.query(ctx, `
		SELECT `+correctionColumns+` FROM overtime_corrections
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("corrections in range: %w", err)
	}
	defer rows.Close()

	var corrections []OvertimeCorrection
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, *c)
	}
	return corrections, rows.Err()
}

func (r *PostgresRepository) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := r.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM holidays WHERE date = $1)`, date).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) UpsertHoliday(ctx context.Context, h *Holiday) error {
	_, err := r.exec(ctx, `
		INSERT INTO holidays (date, name, federal) VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE SET name = EXCLUDED.name, federal = EXCLUDED.federal`,
		h.Date, h.Name, h.Federal)
	return err
}

const vacationBalanceColumns = `id, user_id, year, entitlement, carryover, taken, pending, updated_at`

func scanVacationBalance(row pgx.Row) (*VacationBalance, error) {
	var v VacationBalance
	if err := row.Scan(&v.ID, &v.UserID, &v.Year, &v.Entitlement, &v.Carryover, &v.Taken, &v.Pending, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *PostgresRepository) GetVacationBalance(ctx context.Context, userID string, year int) (*VacationBalance, error) {
	row := r.queryRow(ctx, `SELECT `+vacationBalanceColumns+` FROM vacation_balance WHERE user_id = $1 AND year = $2`, userID, year)
	v, err := scanVacationBalance(row)
	if err == pgx.ErrNoRows {
		return nil, apierror.NotFound("no vacation balance for user %s in %d", userID, year)
	}
	if err != nil {
		return nil, fmt.Errorf("get vacation balance: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) UpsertVacationBalance(ctx context.Context, v *VacationBalance) error {
	_, err := r.exec(ctx, `
		INSERT INTO vacation_balance (`+vacationBalanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, year) DO UPDATE SET
			entitlement = EXCLUDED.entitlement,
			carryover = EXCLUDED.carryover,
			taken = EXCLUDED.taken,
			pending = EXCLUDED.pending,
			updated_at = EXCLUDED.updated_at`,
		v.ID, v.UserID, v.Year, v.Entitlement, v.Carryover, v.Taken, v.Pending, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vacation balance: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HolidaysInYear(ctx context.Context, year int) ([]Holiday, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
	rows, err := r.query(ctx, `SELECT date, name, federal FROM holidays WHERE date BETWEEN $1 AND $2 ORDER BY date`, start, end)
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

