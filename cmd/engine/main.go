// Command engine is the process entry point for the working-time
// accounting engine: it loads configuration, connects the database pool,
// wires the fact, ledger and projection repositories into the year-end
// rollover service, syncs holidays, and runs the rollover scheduler until
// signalled to stop. The absence, time-entry and export services are not
// constructed here.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hmb-research/overtime-engine/internal/config"
	"github.com/hmb-research/overtime-engine/internal/database"
	"github.com/hmb-research/overtime-engine/internal/facts"
	"github.com/hmb-research/overtime-engine/internal/holidayoracle"
	"github.com/hmb-research/overtime-engine/internal/ledger"
	"github.com/hmb-research/overtime-engine/internal/notify"
	"github.com/hmb-research/overtime-engine/internal/projection"
	"github.com/hmb-research/overtime-engine/internal/rollover"
	"github.com/hmb-research/overtime-engine/internal/scheduler"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		log.Warn().Str("level", logLevel).Msg("invalid LOG_LEVEL, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	configPath := flag.String("config", "config.yaml", "path to engine config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.DatabaseURL == "" {
		if url := os.Getenv("DATABASE_URL"); url != "" {
			cfg.DatabaseURL = url
		} else {
			log.Fatal().Msg("database_url required via config file or DATABASE_URL env")
		}
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().Msg("connected to database")

	factsRepo := facts.NewPostgresRepository(pool.Pool)
	ledgerRepo := ledger.NewPostgresRepository(pool.Pool)
	projRepo := projection.NewPostgresRepository(pool.Pool)
	uuidGen := facts.DefaultUUIDGenerator{}

	auditLogger := notify.NewPostgresAuditLogger(pool.Pool)

	rolloverService := rollover.New(pool, factsRepo, ledgerRepo, projRepo, uuidGen, auditLogger, cfg.CarryoverVacationPolicy)

	holidayProvider := holidayoracle.NewHTTPProvider(cfg.HolidayCountryCode)
	holidays := holidayoracle.New(holidayProvider, factsRepo)
	syncHolidays(ctx, holidays)

	sched := scheduler.New(rolloverService, scheduler.Config{
		RolloverSchedule: cfg.RolloverCron,
		Enabled:          os.Getenv("SCHEDULER_ENABLED") != "false",
	}, cfg.Location())
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	schedCtx := sched.Stop()
	<-schedCtx.Done()
}

// syncHolidays loads the current and next civil year's holidays at
// startup (§5 "never fall back to hard-coded data"). If the provider is
// unreachable, Load keeps whatever holidays are already stored.
func syncHolidays(ctx context.Context, oracle *holidayoracle.Oracle) {
	year := time.Now().Year()
	for _, y := range []int{year, year + 1} {
		if err := oracle.Load(ctx, y); err != nil {
			log.Warn().Err(err).Int("year", y).Msg("holiday sync failed at startup")
		}
	}
}
