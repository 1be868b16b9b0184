//go:build integration

package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hmb-research/overtime-engine/internal/testutil"
)

func TestPostgresAuditLogger_Record(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	logger := NewPostgresAuditLogger(pool)
	ctx := context.Background()

	logger.Record(ctx, "admin-1", "create_time_entry", "time_entry", "te-1", map[string]interface{}{
		"date": "2026-03-02", "hours": "8",
	})

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM audit_log WHERE entity_id = $1`, "te-1").Scan(&count))
	require.Equal(t, 1, count)

	var action string
	var diffDate string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT action, diff->>'date' FROM audit_log WHERE entity_id = $1`, "te-1",
	).Scan(&action, &diffDate))
	require.Equal(t, "create_time_entry", action)
	require.Equal(t, "2026-03-02", diffDate)
}
