// Package holidayoracle implements the HolidayOracle collaborator (§6):
// Load(year) populates the Source Fact Store's holidays table from an
// external public-holiday provider. Network failure is logged and
// swallowed rather than propagated — the engine falls back to whatever
// holidays are already stored rather than failing a recompute outright
// (§5, §9 "never fall back to hard-coded data").
package holidayoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hmb-research/overtime-engine/internal/facts"
)

// Provider fetches one year's public holidays for a single country. It is
// the seam HTTPProvider implements against a real upstream and tests
// implement against canned data.
type Provider interface {
	FetchYear(ctx context.Context, year int) ([]facts.Holiday, error)
}

// holidayStore is the narrow slice of facts.Repository Load needs;
// facts.Repository satisfies it directly.
type holidayStore interface {
	UpsertHoliday(ctx context.Context, h *facts.Holiday) error
}

// Oracle wraps a Provider and syncs its results into the Source Fact
// Store. It never blocks a recompute: Load's only caller is a scheduled
// or admin-triggered sync, never the rebuild path itself, so the store's
// already-persisted holidays are what §4.1/§4.2 actually read.
type Oracle struct {
	provider Provider
	store    holidayStore
}

func New(provider Provider, store holidayStore) *Oracle {
	return &Oracle{provider: provider, store: store}
}

// Load implements §6's HolidayOracle.load(year): fetch the year's
// holidays and upsert each into the store. A provider failure is logged
// and returned as nil so a caller looping over several years keeps going
// rather than aborting the whole sync on one bad year.
func (o *Oracle) Load(ctx context.Context, year int) error {
	holidays, err := o.provider.FetchYear(ctx, year)
	if err != nil {
		log.Warn().Err(err).Int("year", year).Msg("holiday provider fetch failed, keeping stored holidays")
		return nil
	}

	for _, h := range holidays {
		if err := o.store.UpsertHoliday(ctx, &h); err != nil {
			log.Warn().Err(err).Int("year", year).Str("date", h.Date.Format("2006-01-02")).Msg("failed to persist holiday")
		}
	}
	return nil
}

// nagerHoliday is the response shape of the Nager.Date public holiday
// API (date.nager.at), the default HTTPProvider upstream.
type nagerHoliday struct {
	Date    string `json:"date"`
	Name    string `json:"localName"`
	Global  bool   `json:"global"`
	Counties []string `json:"counties"`
}

// HTTPProvider fetches from a Nager.Date-compatible REST endpoint.
// CountryCode is an ISO 3166-1 alpha-2 code (e.g. "DE").
type HTTPProvider struct {
	Client      *http.Client
	BaseURL     string
	CountryCode string
}

func NewHTTPProvider(countryCode string) *HTTPProvider {
	return &HTTPProvider{
		Client:      &http.Client{Timeout: 10 * time.Second},
		BaseURL:     "https://date.nager.at/api/v3/PublicHolidays",
		CountryCode: countryCode,
	}
}

func (p *HTTPProvider) FetchYear(ctx context.Context, year int) ([]facts.Holiday, error) {
	url := fmt.Sprintf("%s/%d/%s", p.BaseURL, year, p.CountryCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build holiday request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch holidays: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holiday provider returned status %d", resp.StatusCode)
	}

	var raw []nagerHoliday
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode holiday response: %w", err)
	}

	out := make([]facts.Holiday, 0, len(raw))
	for _, h := range raw {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			continue
		}
		// counties == nil (Global) means a federal/national holiday;
		// a populated counties list marks a region-specific observance.
		out = append(out, facts.Holiday{Date: date, Name: h.Name, Federal: h.Global})
	}
	return out, nil
}
