//go:build gorm

package facts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hmb-research/overtime-engine/internal/apierror"
	"github.com/hmb-research/overtime-engine/internal/calendar"
)

// gormUser is the GORM row shape for users. WorkSchedule is stored as a
// JSONMap keyed by weekday name rather than hand-rolled JSON marshaling,
// matching §3/§6's weekday-name mapping.
type gormUser struct {
	ID                  string `gorm:"primaryKey"`
	Username            string
	Email               string
	FirstName           string
	LastName            string
	Role                string
	Status              string
	WeeklyHours         string
	WorkSchedule        datatypes.JSONMap
	VacationDaysPerYear int
	HireDate            time.Time
	EndDate             *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (gormUser) TableName() string { return "users" }

func userToGormModel(u *User) *gormUser {
	var schedule datatypes.JSONMap
	if u.WorkSchedule != nil {
		schedule = make(datatypes.JSONMap, len(u.WorkSchedule))
		for wd, hours := range u.WorkSchedule {
			schedule[weekdayNames[wd]] = hours.String()
		}
	}
	return &gormUser{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Role:                string(u.Role),
		Status:              string(u.Status),
		WeeklyHours:         u.WeeklyHours.String(),
		WorkSchedule:        schedule,
		VacationDaysPerYear: u.VacationDaysPerYear,
		HireDate:            u.HireDate,
		EndDate:             u.EndDate,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func gormModelToUser(m *gormUser) (*User, error) {
	weeklyHours, err := decimal.NewFromString(m.WeeklyHours)
	if err != nil {
		return nil, fmt.Errorf("parse weekly_hours: %w", err)
	}

	var schedule calendar.WeekSchedule
	if len(m.WorkSchedule) > 0 {
		schedule = make(calendar.WeekSchedule, len(m.WorkSchedule))
		for name, raw := range m.WorkSchedule {
			wd, ok := weekdayByName(name)
			if !ok {
				return nil, fmt.Errorf("unknown weekday %q in work_schedule", name)
			}
			hours, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("work_schedule[%s]: expected string, got %T", name, raw)
			}
			d, err := decimal.NewFromString(hours)
			if err != nil {
				return nil, fmt.Errorf("parse hours for %s: %w", name, err)
			}
			schedule[wd] = d
		}
	}

	return &User{
		ID:                  m.ID,
		Username:            m.Username,
		Email:               m.Email,
		FirstName:           m.FirstName,
		LastName:            m.LastName,
		Role:                Role(m.Role),
		Status:              UserStatus(m.Status),
		WeeklyHours:         weeklyHours,
		WorkSchedule:        schedule,
		VacationDaysPerYear: m.VacationDaysPerYear,
		HireDate:            m.HireDate,
		EndDate:             m.EndDate,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}, nil
}

// GORMRepository is the embedded/ops-friendly alternate to
// PostgresRepository, selected with the `gorm` build tag the same way the
// rest of the reference corpus' domain packages offer a GORM twin.
type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// WithTx is a no-op: GORM transactions are scoped via db.Transaction, not
// an inherited pgx.Tx, so recompute/absence-approval must use that call
// directly when running under this build tag.
func (r *GORMRepository) WithTx(tx pgx.Tx) Repository {
	return r
}

func (r *GORMRepository) GetUser(ctx context.Context, userID string) (*User, error) {
	var m gormUser
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return gormModelToUser(&m)
}

func (r *GORMRepository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	var rows []gormUser
	if err := r.db.WithContext(ctx).Where("status = ?", string(UserActive)).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	users := make([]*User, 0, len(rows))
	for i := range rows {
		u, err := gormModelToUser(&rows[i])
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *GORMRepository) UpdateUserSchedule(ctx context.Context, u *User) error {
	m := userToGormModel(u)
	result := r.db.WithContext(ctx).Model(&gormUser{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
		"weekly_hours":  m.WeeklyHours,
		"work_schedule": m.WorkSchedule,
		"hire_date":     m.HireDate,
		"end_date":      m.EndDate,
		"updated_at":    time.Now(),
	})
	return result.Error
}

// The remaining entities (time entries, absences, corrections, holidays)
// have no JSON-column peculiarity, so their GORM models live alongside the
// same conversion shape without needing a dedicated adapter file.

type gormTimeEntry struct {
	ID           string `gorm:"primaryKey"`
	UserID       string
	Date         time.Time
	Hours        string
	BreakMinutes int
	StartTime    *time.Time
	EndTime      *time.Time
	Location     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (gormTimeEntry) TableName() string { return "time_entries" }

func timeEntryToGormModel(te *TimeEntry) *gormTimeEntry {
	return &gormTimeEntry{
		ID: te.ID, UserID: te.UserID, Date: te.Date, Hours: te.Hours.String(),
		BreakMinutes: te.BreakMinutes, StartTime: te.StartTime, EndTime: te.EndTime,
		Location: string(te.Location), CreatedAt: te.CreatedAt, UpdatedAt: te.UpdatedAt,
	}
}

func gormModelToTimeEntry(m *gormTimeEntry) (*TimeEntry, error) {
	hours, err := decimal.NewFromString(m.Hours)
	if err != nil {
		return nil, fmt.Errorf("parse hours: %w", err)
	}
	return &TimeEntry{
		ID: m.ID, UserID: m.UserID, Date: m.Date, Hours: hours,
		BreakMinutes: m.BreakMinutes, StartTime: m.StartTime, EndTime: m.EndTime,
		Location: Location(m.Location), CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r *GORMRepository) CreateTimeEntry(ctx context.Context, te *TimeEntry) error {
	return r.db.WithContext(ctx).Create(timeEntryToGormModel(te)).Error
}

func (r *GORMRepository) UpdateTimeEntry(ctx context.Context, te *TimeEntry) error {
	m := timeEntryToGormModel(te)
	result := r.db.WithContext(ctx).Model(&gormTimeEntry{}).Where("id = ?", te.ID).Updates(map[string]interface{}{
		"date": m.Date, "hours": m.Hours, "break_minutes": m.BreakMinutes,
		"start_time": m.StartTime, "end_time": m.EndTime, "location": m.Location, "updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apierror.NotFound("time entry %s not found", te.ID)
	}
	return nil
}

func (r *GORMRepository) GetTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	var m gormTimeEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("time entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get time entry: %w", err)
	}
	return gormModelToTimeEntry(&m)
}

func (r *GORMRepository) DeleteTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	te, err := r.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&gormTimeEntry{}).Error; err != nil {
		return nil, err
	}
	return te, nil
}

func (r *GORMRepository) TimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	var rows []gormTimeEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date BETWEEN ? AND ?", userID, start, end).
		Order("date, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("time entries in range: %w", err)
	}
	entries := make([]TimeEntry, 0, len(rows))
	for i := range rows {
		te, err := gormModelToTimeEntry(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *te)
	}
	return entries, nil
}

func (r *GORMRepository) DeleteTimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]TimeEntry, error) {
	deleted, err := r.TimeEntriesInRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND date BETWEEN ? AND ?", userID, start, end).
		Delete(&gormTimeEntry{}).Error; err != nil {
		return nil, err
	}
	return deleted, nil
}

type gormAbsence struct {
	ID         string `gorm:"primaryKey"`
	UserID     string
	Type       string
	StartDate  time.Time
	EndDate    time.Time
	Days       int
	Status     string
	Reason     string
	ApprovedBy *string
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (gormAbsence) TableName() string { return "absence_requests" }

func absenceToGormModel(a *AbsenceRequest) *gormAbsence {
	return &gormAbsence{
		ID: a.ID, UserID: a.UserID, Type: string(a.Type), StartDate: a.StartDate, EndDate: a.EndDate,
		Days: a.Days, Status: string(a.Status), Reason: a.Reason, ApprovedBy: a.ApprovedBy,
		ApprovedAt: a.ApprovedAt, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func gormModelToAbsence(m *gormAbsence) *AbsenceRequest {
	return &AbsenceRequest{
		ID: m.ID, UserID: m.UserID, Type: AbsenceType(m.Type), StartDate: m.StartDate, EndDate: m.EndDate,
		Days: m.Days, Status: AbsenceStatus(m.Status), Reason: m.Reason, ApprovedBy: m.ApprovedBy,
		ApprovedAt: m.ApprovedAt, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (r *GORMRepository) CreateAbsence(ctx context.Context, a *AbsenceRequest) error {
	return r.db.WithContext(ctx).Create(absenceToGormModel(a)).Error
}

func (r *GORMRepository) UpdateAbsence(ctx context.Context, a *AbsenceRequest) error {
	result := r.db.WithContext(ctx).Model(&gormAbsence{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"status": string(a.Status), "approved_by": a.ApprovedBy, "approved_at": a.ApprovedAt, "updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apierror.NotFound("absence %s not found", a.ID)
	}
	return nil
}

func (r *GORMRepository) GetAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	var m gormAbsence
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("absence %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get absence: %w", err)
	}
	return gormModelToAbsence(&m), nil
}

func (r *GORMRepository) DeleteAbsence(ctx context.Context, id string) (*AbsenceRequest, error) {
	a, err := r.GetAbsence(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&gormAbsence{}).Error; err != nil {
		return nil, err
	}
	return a, nil
}

func (r *GORMRepository) AbsencesOverlapping(ctx context.Context, userID string, start, end time.Time, statuses ...AbsenceStatus) ([]AbsenceRequest, error) {
	query := r.db.WithContext(ctx).Where("user_id = ? AND start_date <= ? AND end_date >= ?", userID, end, start)
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query = query.Where("status IN ?", names)
	}
	var rows []gormAbsence
	if err := query.Order("start_date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("absences overlapping: %w", err)
	}
	absences := make([]AbsenceRequest, len(rows))
	for i := range rows {
		absences[i] = *gormModelToAbsence(&rows[i])
	}
	return absences, nil
}

func (r *GORMRepository) ApprovedAbsenceOn(ctx context.Context, userID string, date time.Time) (*AbsenceRequest, error) {
	var m gormAbsence
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?", userID, string(AbsenceApproved), date, date).
		Limit(1).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approved absence on date: %w", err)
	}
	return gormModelToAbsence(&m), nil
}

type gormCorrection struct {
	ID             string `gorm:"primaryKey"`
	UserID         string
	Date           time.Time
	Hours          string
	Reason         string
	CorrectionType string
	CreatedBy      string
	CreatedAt      time.Time
}

func (gormCorrection) TableName() string { return "overtime_corrections" }

func (r *GORMRepository) CreateCorrection(ctx context.Context, c *OvertimeCorrection) error {
	return r.db.WithContext(ctx).Create(&gormCorrection{
		ID: c.ID, UserID: c.UserID, Date: c.Date, Hours: c.Hours.String(), Reason: c.Reason,
		CorrectionType: string(c.CorrectionType), CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt,
	}).Error
}

func (r *GORMRepository) DeleteCorrection(ctx context.Context, id string) (*OvertimeCorrection, error) {
	var m gormCorrection
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("correction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get correction: %w", err)
	}
	hours, err := decimal.NewFromString(m.Hours)
	if err != nil {
		return nil, fmt.Errorf("parse hours: %w", err)
	}
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&gormCorrection{}).Error; err != nil {
		return nil, err
	}
	return &OvertimeCorrection{
		ID: m.ID, UserID: m.UserID, Date: m.Date, Hours: hours, Reason: m.Reason,
		CorrectionType: CorrectionType(m.CorrectionType), CreatedBy: m.CreatedBy, CreatedAt: m.CreatedAt,
	}, nil
}

func (r *GORMRepository) CorrectionsInRange(ctx context.Context, userID string, start, end time.Time) ([]OvertimeCorrection, error) {
	var rows []gormCorrection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date BETWEEN ? AND ?", userID, start, end).
		Order("date, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("corrections in range: %w", err)
	}
	corrections := make([]OvertimeCorrection, 0, len(rows))
	for _, m := range rows {
		hours, err := decimal.NewFromString(m.Hours)
		if err != nil {
			return nil, fmt.Errorf("parse hours: %w", err)
		}
		corrections = append(corrections, OvertimeCorrection{
			ID: m.ID, UserID: m.UserID, Date: m.Date, Hours: hours, Reason: m.Reason,
			CorrectionType: CorrectionType(m.CorrectionType), CreatedBy: m.CreatedBy, CreatedAt: m.CreatedAt,
		})
	}
	return corrections, nil
}

type gormHoliday struct {
	Date    time.Time `gorm:"primaryKey"`
	Name    string
	Federal bool
}

func (gormHoliday) TableName() string { return "holidays" }

func (r *GORMRepository) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&gormHoliday{}).Where("date = ?", date).Count(&count).Error
	return count > 0, err
}

func (r *GORMRepository) UpsertHoliday(ctx context.Context, h *Holiday) error {
	return r.db.WithContext(ctx).Save(&gormHoliday{Date: h.Date, Name: h.Name, Federal: h.Federal}).Error
}

func (r *GORMRepository) HolidaysInYear(ctx context.Context, year int) ([]Holiday, error) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
	var rows []gormHoliday
	if err := r.db.WithContext(ctx).Where("date BETWEEN ? AND ?", start, end).Order("date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("holidays in year: %w", err)
	}
	holidays := make([]Holiday, len(rows))
	for i, m := range rows {
		holidays[i] = Holiday{Date: m.Date, Name: m.Name, Federal: m.Federal}
	}
	return holidays, nil
}

type gormVacationBalance struct {
	ID          string `gorm:"primaryKey"`
	UserID      string
	Year        int
	Entitlement string
	Carryover   string
	Taken       string
	Pending     string
	UpdatedAt   time.Time
}

func (gormVacationBalance) TableName() string { return "vacation_balance" }

func vacationBalanceToGormModel(v *VacationBalance) *gormVacationBalance {
	return &gormVacationBalance{
		ID: v.ID, UserID: v.UserID, Year: v.Year, Entitlement: v.Entitlement.String(),
		Carryover: v.Carryover.String(), Taken: v.Taken.String(), Pending: v.Pending.String(), UpdatedAt: v.UpdatedAt,
	}
}

func gormModelToVacationBalance(m *gormVacationBalance) (*VacationBalance, error) {
	entitlement, err := decimal.NewFromString(m.Entitlement)
	if err != nil {
		return nil, fmt.Errorf("parse entitlement: %w", err)
	}
	carryover, err := decimal.NewFromString(m.Carryover)
	if err != nil {
		return nil, fmt.Errorf("parse carryover: %w", err)
	}
	taken, err := decimal.NewFromString(m.Taken)
	if err != nil {
		return nil, fmt.Errorf("parse taken: %w", err)
	}
	pending, err := decimal.NewFromString(m.Pending)
	if err != nil {
		return nil, fmt.Errorf("parse pending: %w", err)
	}
	return &VacationBalance{
		ID: m.ID, UserID: m.UserID, Year: m.Year, Entitlement: entitlement,
		Carryover: carryover, Taken: taken, Pending: pending, UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r *GORMRepository) GetVacationBalance(ctx context.Context, userID string, year int) (*VacationBalance, error) {
	var m gormVacationBalance
	err := r.db.WithContext(ctx).Where("user_id = ? AND year = ?", userID, year).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierror.NotFound("no vacation balance for user %s in %d", userID, year)
	}
	if err != nil {
		return nil, fmt.Errorf("get vacation balance: %w", err)
	}
	return gormModelToVacationBalance(&m)
}

func (r *GORMRepository) UpsertVacationBalance(ctx context.Context, v *VacationBalance) error {
	m := vacationBalanceToGormModel(v)
	result := r.db.WithContext(ctx).Model(&gormVacationBalance{}).
		Where("user_id = ? AND year = ?", v.UserID, v.Year).
		Updates(map[string]interface{}{
			"entitlement": m.Entitlement, "carryover": m.Carryover,
			"taken": m.Taken, "pending": m.Pending, "updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.db.WithContext(ctx).Create(m).Error
	}
	return nil
}
