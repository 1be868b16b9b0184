// Package scheduler wires the Year-End Rollover (C9) to run automatically
// at civil date Jan-1 00:05 (§4.9), grounded on the reference's
// cron-backed recurring-job scheduler.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/hmb-research/overtime-engine/internal/rollover"
)

// Config holds scheduler configuration.
type Config struct {
	// RolloverSchedule is a 5-field cron expression (e.g. "5 0 1 1 *" for
	// Jan-1 00:05), evaluated in the engine's configured time zone.
	RolloverSchedule string
	Enabled          bool
}

// Scheduler manages the engine's background jobs.
type Scheduler struct {
	cron     *cron.Cron
	rollover *rollover.Service
	config   Config
	now      func() time.Time
	running  bool
	mu       sync.Mutex
}

// New creates a scheduler bound to a rollover.Service. loc is the
// engine's configured civil time zone the cron schedule runs in.
func New(rolloverService *rollover.Service, config Config, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		rollover: rolloverService,
		config:   config,
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if !s.config.Enabled {
		log.Info().Msg("scheduler is disabled")
		return nil
	}

	// Convert 5-field cron (standard) to 6-field by prepending "0" for
	// seconds, matching the reference's own 5-to-6-field conversion.
	schedule := "0 " + s.config.RolloverSchedule
	if _, err := s.cron.AddFunc(schedule, s.runYearEndRollover); err != nil {
		return fmt.Errorf("add year-end rollover job: %w", err)
	}

	s.cron.Start()
	s.running = true

	log.Info().Str("schedule", s.config.RolloverSchedule).Msg("scheduler started - year-end rollover scheduled")
	return nil
}

// Stop stops the scheduler gracefully, returning a context cancelled
// once any in-flight job finishes.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	ctx := s.cron.Stop()
	s.running = false
	log.Info().Msg("scheduler stopped")
	return ctx
}

// runYearEndRollover performs the rollover for the year that just ended:
// a Jan-1 firing rolls over the prior civil year (§4.9).
func (s *Scheduler) runYearEndRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	year := s.now().Year() - 1
	log.Info().Int("year", year).Msg("starting scheduled year-end rollover")

	result, err := s.rollover.Perform(ctx, year)
	if err != nil {
		log.Error().Err(err).Int("year", year).Msg("scheduled year-end rollover failed")
		return
	}

	log.Info().Int("year", year).Int("users_rolled_over", len(result.Users)).Msg("completed scheduled year-end rollover")
}

// RunNow manually triggers the rollover for the given year, for
// admin-initiated off-schedule runs (§4.9 "or on admin demand").
func (s *Scheduler) RunNow(ctx context.Context, year int) (rollover.Result, error) {
	return s.rollover.Perform(ctx, year)
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
