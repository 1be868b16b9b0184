// Package notify implements the best-effort Notifier and AuditLogger
// collaborators (§6): callers emit through these for visibility, but a
// failure here must never fail the absence/rollover operation that
// triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Kind identifies the event a Notifier.Emit call describes.
type Kind string

const (
	KindAbsenceApproved    Kind = "absence_approved"
	KindAbsenceRejected    Kind = "absence_rejected"
	KindTimeEntriesDeleted Kind = "time_entries_deleted"
	KindRolloverCompleted  Kind = "rollover_completed"
)

// Notifier is the §6 collaborator interface; Emit never returns an error
// because a delivery failure here must not roll back the caller's
// transaction.
type Notifier interface {
	Emit(ctx context.Context, userID string, kind Kind, payload map[string]interface{})
}

// AuditLogger is the §6 collaborator interface for operator-visible
// history of who did what to which entity.
type AuditLogger interface {
	Record(ctx context.Context, actorID, action, entity, entityID string, diff map[string]interface{})
}

// LogNotifier is the default Notifier: it logs structurally via zerolog
// rather than delivering email/push, matching the reference's own
// log.Info()/log.Error() pattern for fire-and-forget side effects.
type LogNotifier struct{}

func (LogNotifier) Emit(ctx context.Context, userID string, kind Kind, payload map[string]interface{}) {
	evt := log.Info().Str("user_id", userID).Str("kind", string(kind))
	for k, v := range payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg("notification emitted")
}

// LogAuditLogger is the default AuditLogger, logging the same way.
type LogAuditLogger struct{}

func (LogAuditLogger) Record(ctx context.Context, actorID, action, entity, entityID string, diff map[string]interface{}) {
	evt := log.Info().Str("actor_id", actorID).Str("action", action).Str("entity", entity).Str("entity_id", entityID)
	for k, v := range diff {
		evt = evt.Interface(k, v)
	}
	evt.Msg("audit record")
}
