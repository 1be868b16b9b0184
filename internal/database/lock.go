package database

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// UserMonthLockKey derives a stable 64-bit advisory lock key from a
// (userId, month) pair. The recompute orchestrator serializes all
// rebuilds for the same user/month behind this lock so that two
// concurrent recomputes never interleave their delete-then-insert
// sequence (§5 ordering guarantees).
func UserMonthLockKey(userID, month string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(month))
	return int64(h.Sum64())
}

// WithUserMonthLock runs fn inside tx holding a Postgres transaction-level
// advisory lock keyed by (userID, month). The lock is released
// automatically when tx commits or rolls back, so it composes directly
// with the "delete ledger rows, recompute, insert, upsert projection"
// critical section the orchestrator needs to run atomically.
func WithUserMonthLock(ctx context.Context, tx pgx.Tx, userID, month string, fn func() error) error {
	key := UserMonthLockKey(userID, month)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("acquire advisory lock for %s/%s: %w", userID, month, err)
	}
	return fn()
}
