package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hmb-research/overtime-engine/internal/database"
)

// PostgresAuditLogger persists every Record call to the audit_log table,
// storing diff as database.JSONB so it survives process restarts instead
// of only reaching the process log. Record still never returns an error:
// a failed audit write is logged and swallowed rather than rolling back
// the caller's transaction, the same best-effort contract LogAuditLogger
// gives callers.
type PostgresAuditLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditLogger(pool *pgxpool.Pool) *PostgresAuditLogger {
	return &PostgresAuditLogger{pool: pool}
}

func (l *PostgresAuditLogger) Record(ctx context.Context, actorID, action, entity, entityID string, diff map[string]interface{}) {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity, entity_id, diff) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), actorID, action, entity, entityID, database.JSONB(diff),
	)
	if err != nil {
		log.Error().Err(err).Str("actor_id", actorID).Str("action", action).Str("entity", entity).Str("entity_id", entityID).Msg("audit record persist failed")
	}
}
