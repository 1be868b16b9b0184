package holidayoracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/facts"
)

type fakeProvider struct {
	holidays []facts.Holiday
	err      error
}

func (f *fakeProvider) FetchYear(ctx context.Context, year int) ([]facts.Holiday, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.holidays, nil
}

// fakeHolidayStore implements only the Oracle's holidayStore seam rather
// than the full facts.Repository, since Load touches nothing else.
type fakeHolidayStore struct {
	upserted []facts.Holiday
}

func (f *fakeHolidayStore) UpsertHoliday(ctx context.Context, h *facts.Holiday) error {
	f.upserted = append(f.upserted, *h)
	return nil
}

func TestLoad_PersistsFetchedHolidays(t *testing.T) {
	provider := &fakeProvider{holidays: []facts.Holiday{
		{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Name: "New Year", Federal: true},
		{Date: time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC), Name: "Christmas", Federal: true},
	}}
	store := &fakeHolidayStore{}
	oracle := New(provider, store)

	err := oracle.Load(context.Background(), 2026)
	require.NoError(t, err)
	require.Len(t, store.upserted, 2)
	assert.Equal(t, "New Year", store.upserted[0].Name)
}

func TestLoad_ProviderFailureIsSwallowed(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream unavailable")}
	store := &fakeHolidayStore{}
	oracle := New(provider, store)

	err := oracle.Load(context.Background(), 2026)
	require.NoError(t, err, "a provider failure must not fail the caller's sync loop")
	assert.Empty(t, store.upserted)
}
