package entries

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/apierror"
	"github.com/hmb-research/overtime-engine/internal/calendar"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/notify"
	"github.com/hmb-research/overtime-engine/internal/projection"
	"github.com/hmb-research/overtime-engine/internal/recompute"
)

func noLockAtomic(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func noLockAtomicMonth(ctx context.Context, userID, month string, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type sequentialUUID struct{ n int }

func (s *sequentialUUID) New() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type fakeAudit struct{ records int }

func (f *fakeAudit) Record(ctx context.Context, actorID, action, entity, entityID string, diff map[string]interface{}) {
	f.records++
}

// fakeFacts is a mutable in-memory facts.Repository, the same shape
// internal/absences' tests use, so the conflict gate and the orchestrator
// rebuild both observe real writes.
type fakeFacts struct {
	users       map[string]*facts.User
	timeEntries map[string]*facts.TimeEntry
	absences    map[string]*facts.AbsenceRequest
	corrections map[string]*facts.OvertimeCorrection
	holidays    map[string]bool
}

func newFakeFacts() *fakeFacts {
	return &fakeFacts{
		users:       map[string]*facts.User{},
		timeEntries: map[string]*facts.TimeEntry{},
		absences:    map[string]*facts.AbsenceRequest{},
		corrections: map[string]*facts.OvertimeCorrection{},
		holidays:    map[string]bool{},
	}
}

func (f *fakeFacts) WithTx(tx pgx.Tx) facts.Repository { return f }
func (f *fakeFacts) GetUser(ctx context.Context, userID string) (*facts.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, apierror.NotFound("user %s not found", userID)
	}
	return u, nil
}
func (f *fakeFacts) ListActiveUsers(ctx context.Context) ([]*facts.User, error) { return nil, nil }
func (f *fakeFacts) UpdateUserSchedule(ctx context.Context, u *facts.User) error { return nil }

func (f *fakeFacts) CreateTimeEntry(ctx context.Context, te *facts.TimeEntry) error {
	cp := *te
	f.timeEntries[te.ID] = &cp
	return nil
}
func (f *fakeFacts) UpdateTimeEntry(ctx context.Context, te *facts.TimeEntry) error {
	if _, ok := f.timeEntries[te.ID]; !ok {
		return apierror.NotFound("time entry %s not found", te.ID)
	}
	cp := *te
	f.timeEntries[te.ID] = &cp
	return nil
}
func (f *fakeFacts) GetTimeEntry(ctx context.Context, id string) (*facts.TimeEntry, error) {
	te, ok := f.timeEntries[id]
	if !ok {
		return nil, apierror.NotFound("time entry %s not found", id)
	}
	cp := *te
	return &cp, nil
}
func (f *fakeFacts) DeleteTimeEntry(ctx context.Context, id string) (*facts.TimeEntry, error) {
	te, ok := f.timeEntries[id]
	if !ok {
		return nil, apierror.NotFound("time entry %s not found", id)
	}
	delete(f.timeEntries, id)
	return te, nil
}
func (f *fakeFacts) TimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]facts.TimeEntry, error) {
	var out []facts.TimeEntry
	for _, te := range f.timeEntries {
		if te.UserID == userID && !te.Date.Before(start) && !te.Date.After(end) {
			out = append(out, *te)
		}
	}
	return out, nil
}
func (f *fakeFacts) DeleteTimeEntriesInRange(ctx context.Context, userID string, start, end time.Time) ([]facts.TimeEntry, error) {
	var deleted []facts.TimeEntry
	for id, te := range f.timeEntries {
		if te.UserID == userID && !te.Date.Before(start) && !te.Date.After(end) {
			deleted = append(deleted, *te)
			delete(f.timeEntries, id)
		}
	}
	return deleted, nil
}

func (f *fakeFacts) CreateAbsence(ctx context.Context, a *facts.AbsenceRequest) error {
	cp := *a
	f.absences[a.ID] = &cp
	return nil
}
func (f *fakeFacts) UpdateAbsence(ctx context.Context, a *facts.AbsenceRequest) error { return nil }
func (f *fakeFacts) GetAbsence(ctx context.Context, id string) (*facts.AbsenceRequest, error) {
	return nil, nil
}
func (f *fakeFacts) DeleteAbsence(ctx context.Context, id string) (*facts.AbsenceRequest, error) {
	return nil, nil
}
func (f *fakeFacts) AbsencesOverlapping(ctx context.Context, userID string, start, end time.Time, statuses ...facts.AbsenceStatus) ([]facts.AbsenceRequest, error) {
	return nil, nil
}
func (f *fakeFacts) ApprovedAbsenceOn(ctx context.Context, userID string, date time.Time) (*facts.AbsenceRequest, error) {
	for _, a := range f.absences {
		if a.UserID == userID && a.Status == facts.AbsenceApproved && a.Overlaps(date, date) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeFacts) CreateCorrection(ctx context.Context, c *facts.OvertimeCorrection) error {
	cp := *c
	f.corrections[c.ID] = &cp
	return nil
}
func (f *fakeFacts) DeleteCorrection(ctx context.Context, id string) (*facts.OvertimeCorrection, error) {
	c, ok := f.corrections[id]
	if !ok {
		return nil, apierror.NotFound("correction %s not found", id)
	}
	delete(f.corrections, id)
	return c, nil
}
func (f *fakeFacts) CorrectionsInRange(ctx context.Context, userID string, start, end time.Time) ([]facts.OvertimeCorrection, error) {
	var out []facts.OvertimeCorrection
	for _, c := range f.corrections {
		if c.UserID == userID && !c.Date.Before(start) && !c.Date.After(end) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeFacts) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return f.holidays[date.Format("2006-01-02")], nil
}
func (f *fakeFacts) UpsertHoliday(ctx context.Context, h *facts.Holiday) error { return nil }
func (f *fakeFacts) HolidaysInYear(ctx context.Context, year int) ([]facts.Holiday, error) {
	return nil, nil
}
func (f *fakeFacts) GetVacationBalance(ctx context.Context, userID string, year int) (*facts.VacationBalance, error) {
	return nil, apierror.NotFound("no vacation balance for user %s in %d", userID, year)
}
func (f *fakeFacts) UpsertVacationBalance(ctx context.Context, v *facts.VacationBalance) error {
	return nil
}

type fakeLedger struct {
	rows map[string][]ledger.Transaction
}

func newFakeLedger() *fakeLedger { return &fakeLedger{rows: map[string][]ledger.Transaction{}} }

func (f *fakeLedger) WithTx(tx pgx.Tx) ledger.Repository { return f }
func (f *fakeLedger) DeleteInMonth(ctx context.Context, userID string, year int, month time.Month) error {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	var kept []ledger.Transaction
	for _, t := range f.rows[userID] {
		if t.Date.Before(start) || !t.Date.Before(end) {
			kept = append(kept, t)
		}
	}
	f.rows[userID] = kept
	return nil
}
func (f *fakeLedger) Insert(ctx context.Context, rows []ledger.Transaction) error {
	for _, t := range rows {
		f.rows[t.UserID] = append(f.rows[t.UserID], t)
	}
	return nil
}
func (f *fakeLedger) LatestBefore(ctx context.Context, userID string, before time.Time) (decimal.Decimal, error) {
	var latest *ledger.Transaction
	for i := range f.rows[userID] {
		t := f.rows[userID][i]
		if t.Date.Before(before) && (latest == nil || t.Date.After(latest.Date)) {
			latest = &t
		}
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.BalanceAfter, nil
}
func (f *fakeLedger) LatestAsOf(ctx context.Context, userID string, asOf time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeLedger) InRange(ctx context.Context, userID string, start, end time.Time) ([]ledger.Transaction, error) {
	return f.rows[userID], nil
}

type fakeProjection struct {
	rows map[string]*projection.MonthlyProjection
}

func newFakeProjection() *fakeProjection {
	return &fakeProjection{rows: map[string]*projection.MonthlyProjection{}}
}

func projKey(userID string, year int, month time.Month) string {
	return fmt.Sprintf("%s-%04d-%02d", userID, year, month)
}

func (f *fakeProjection) WithTx(tx pgx.Tx) projection.Repository { return f }
func (f *fakeProjection) Upsert(ctx context.Context, userID string, year int, month time.Month, targetHours, actualHours decimal.Decimal) error {
	f.rows[projKey(userID, year, month)] = &projection.MonthlyProjection{
		UserID: userID, Year: year, Month: month,
		TargetHours: targetHours, ActualHours: actualHours, Overtime: actualHours.Sub(targetHours),
	}
	return nil
}
func (f *fakeProjection) SetCarryover(ctx context.Context, userID string, year int, month time.Month, carryover decimal.Decimal) error {
	return nil
}
func (f *fakeProjection) GetMonth(ctx context.Context, userID string, year int, month time.Month) (*projection.MonthlyProjection, error) {
	p, ok := f.rows[projKey(userID, year, month)]
	if !ok {
		return nil, apierror.NotFound("no projection for user %s in %04d-%02d", userID, year, month)
	}
	return p, nil
}
func (f *fakeProjection) YearBreakdown(ctx context.Context, userID string, year int) ([]projection.MonthlyProjection, error) {
	return nil, nil
}

func newTestService(fFacts *fakeFacts) (*Service, *fakeAudit, *fakeProjection) {
	fLedger := newFakeLedger()
	fProj := newFakeProjection()
	oracle := calendar.NewOracle(fFacts, time.UTC)
	orchestrator := recompute.NewWithAtomic(noLockAtomicMonth, fFacts, fLedger, fProj, oracle, &sequentialUUID{})
	audit := &fakeAudit{}
	svc := NewWithAtomic(noLockAtomic, fFacts, orchestrator, &sequentialUUID{}, audit)
	return svc, audit, fProj
}

func newUser(id string) *facts.User {
	return &facts.User{ID: id, WeeklyHours: decimal.NewFromInt(40), HireDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCreateTimeEntry_PersistsAndRebuildsMonth(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, audit, fProj := newTestService(fFacts)

	te, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(9),
	})
	require.NoError(t, err)
	require.NotEmpty(t, te.ID)
	assert.Equal(t, 1, audit.records)

	proj, err := fProj.GetMonth(context.Background(), "u1", 2026, time.March)
	require.NoError(t, err)
	assert.True(t, proj.ActualHours.Equal(decimal.NewFromInt(9)))
}

// P6: creating a time entry on a date already covered by an approved
// vacation (or any non-sick) absence is rejected.
func TestCreateTimeEntry_RejectsApprovedAbsenceConflict(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	fFacts.absences["abs-1"] = &facts.AbsenceRequest{
		ID: "abs-1", UserID: "u1", Type: facts.AbsenceVacation, Status: facts.AbsenceApproved,
		StartDate: day, EndDate: day,
	}
	svc, _, _ := newTestService(fFacts)

	_, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{Date: day, Hours: decimal.NewFromInt(8)})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindConflict, apiErr.Kind)
}

// A sick absence (auto-approved, §4.7) does not block a time entry on the
// same date.
func TestCreateTimeEntry_AllowsSickAbsenceOverlap(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	fFacts.absences["abs-1"] = &facts.AbsenceRequest{
		ID: "abs-1", UserID: "u1", Type: facts.AbsenceSick, Status: facts.AbsenceApproved,
		StartDate: day, EndDate: day,
	}
	svc, _, _ := newTestService(fFacts)

	_, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{Date: day, Hours: decimal.NewFromInt(2)})
	require.NoError(t, err)
}

func TestCreateTimeEntry_RejectsNegativeHours(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, _, _ := newTestService(fFacts)

	_, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(-1),
	})
	require.Error(t, err)
}

func TestUpdateTimeEntry_RebuildsBothMonthsOnMove(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, _, fProj := newTestService(fFacts)

	te, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(8),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateTimeEntry(context.Background(), "u1", te.ID, TimeEntryInput{
		Date: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(6),
	})
	require.NoError(t, err)
	assert.True(t, updated.Date.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	// Old month's projection was rebuilt with the entry gone.
	marchProj, err := fProj.GetMonth(context.Background(), "u1", 2026, time.March)
	require.NoError(t, err)
	assert.True(t, marchProj.ActualHours.IsZero())

	aprilProj, err := fProj.GetMonth(context.Background(), "u1", 2026, time.April)
	require.NoError(t, err)
	assert.True(t, aprilProj.ActualHours.Equal(decimal.NewFromInt(6)))
}

func TestUpdateTimeEntry_WrongUserIsNotFound(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, _, _ := newTestService(fFacts)

	te, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(8),
	})
	require.NoError(t, err)

	_, err = svc.UpdateTimeEntry(context.Background(), "someone-else", te.ID, TimeEntryInput{
		Date: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindNotFound, apiErr.Kind)
}

func TestDeleteTimeEntry_RemovesAndRebuilds(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, audit, fProj := newTestService(fFacts)

	te, err := svc.CreateTimeEntry(context.Background(), "u1", TimeEntryInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(8),
	})
	require.NoError(t, err)

	deleted, err := svc.DeleteTimeEntry(context.Background(), "u1", te.ID)
	require.NoError(t, err)
	assert.Equal(t, te.ID, deleted.ID)
	assert.Equal(t, 2, audit.records)

	_, err = fFacts.GetTimeEntry(context.Background(), te.ID)
	require.Error(t, err)

	marchProj, err := fProj.GetMonth(context.Background(), "u1", 2026, time.March)
	require.NoError(t, err)
	assert.True(t, marchProj.ActualHours.IsZero(), "got %s", marchProj.ActualHours)
}

func TestCreateCorrection_RejectsShortReason(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, _, _ := newTestService(fFacts)

	_, err := svc.CreateCorrection(context.Background(), "u1", CorrectionInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(1),
		Reason: "too short", CorrectionType: facts.CorrectionManual, CreatedBy: "admin",
	})
	require.Error(t, err)
}

func TestCreateCorrectionAndDelete_RebuildsMonth(t *testing.T) {
	fFacts := newFakeFacts()
	fFacts.users["u1"] = newUser("u1")
	svc, audit, fProj := newTestService(fFacts)

	c, err := svc.CreateCorrection(context.Background(), "u1", CorrectionInput{
		Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Hours: decimal.NewFromInt(2),
		Reason: "payroll backdated correction", CorrectionType: facts.CorrectionManual, CreatedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, audit.records)

	proj, err := fFacts.CorrectionsInRange(context.Background(), "u1",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, proj, 1)

	marchProj, err := fProj.GetMonth(context.Background(), "u1", 2026, time.March)
	require.NoError(t, err)
	assert.True(t, marchProj.ActualHours.Equal(decimal.NewFromInt(2)), "got %s", marchProj.ActualHours)

	deleted, err := svc.DeleteCorrection(context.Background(), "u1", c.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, c.ID, deleted.ID)
	assert.Equal(t, 2, audit.records)

	marchProj, err = fProj.GetMonth(context.Background(), "u1", 2026, time.March)
	require.NoError(t, err)
	assert.True(t, marchProj.ActualHours.IsZero(), "got %s", marchProj.ActualHours)
}
