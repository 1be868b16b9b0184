//go:build integration

// Package testutil provides test utilities for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// truncateTables lists every table the migrations create, in
// child-before-parent order. Each TRUNCATE still carries CASCADE, since
// Postgres refuses to truncate a table that a foreign key references.
var truncateTables = []string{
	"audit_log",
	"overtime_transactions",
	"overtime_balance",
	"vacation_balance",
	"overtime_corrections",
	"absence_requests",
	"time_entries",
	"holidays",
	"users",
}

// SetupTestDB connects to the test database.
// If DATABASE_URL is set, it uses that database.
// Otherwise, it uses testcontainers to start a PostgreSQL container.
// Returns the pool with every table truncated, so each test starts from
// an empty store regardless of what a prior test left behind.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool := GetTestContainer(t)
	TruncateAll(t, pool)
	t.Cleanup(func() { TruncateAll(t, pool) })
	return pool
}

// TruncateAll empties every table so tests run against a clean store
// without the cost of a fresh container per test.
func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	for _, table := range truncateTables {
		if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// CreateTestUser inserts a minimal active facts.User row (5-day,
// 8h/weekday schedule, hired a year before now) and returns its ID. The
// caller can follow up with further UPDATE statements for tests that
// need a specific WorkSchedule or hireDate/endDate.
func CreateTestUser(t *testing.T, pool *pgxpool.Pool, email string) string {
	t.Helper()

	ctx := context.Background()
	userID := uuid.New().String()
	now := time.Now()
	hireDate := now.AddDate(-1, 0, 0)

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, username, email, first_name, last_name, role, status,
			weekly_hours, work_schedule, vacation_days_per_year, hire_date, end_date,
			created_at, updated_at)
		VALUES ($1, $2, $3, 'Test', 'User', 'employee', 'active', 40, '{}', 25, $4, NULL, $5, $5)
	`, userID, email, email, hireDate, now)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	return userID
}

// SetupGormDB creates a GORM database connection for testing.
// If DATABASE_URL is set, it uses that database.
// Otherwise, it uses testcontainers to start a PostgreSQL container.
// Returns the GORM DB instance.
func SetupGormDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Get database URL - either from environment or from testcontainer
	var dbURL string
	if envURL := os.Getenv("DATABASE_URL"); envURL != "" {
		dbURL = envURL
	} else {
		// Use testcontainer - get the pool first to ensure container is started
		pool := GetTestContainer(t)
		// Get the connection string from the container
		if containerInstance != nil {
			dbURL = containerInstance.ConnStr
		} else {
			// Fallback: construct from pool config
			config := pool.Config().ConnConfig
			dbURL = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
				config.User, config.Password, config.Host, config.Port, config.Database)
		}
	}

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to database with GORM: %v", err)
	}

	// Verify connection
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get underlying sql.DB: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Logf("warning: failed to close GORM connection: %v", err)
		}
	})

	return db
}
