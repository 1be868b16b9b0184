package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmb-research/overtime-engine/internal/apierror"
)

// Pool wraps pgxpool.Pool with the transaction helper every repository in
// this engine uses to keep a mutation and its dependent rebuilds inside a
// single transaction (§7: "every operation that mutates... runs inside a
// single transaction that spans all dependent rebuilds").
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new database pool from a connection string and
// verifies the invariants §5 requires at startup.
func NewPool(ctx context.Context, connString string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Pool{Pool: pool}
	if err := p.checkStartupInvariants(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

// checkStartupInvariants refuses to serve if foreign-key enforcement or
// write-ahead logging is off, since both are required for the ledger's
// running-sum and referential invariants (§5, §3).
func (p *Pool) checkStartupInvariants(ctx context.Context) error {
	var walLevel string
	if err := p.QueryRow(ctx, "SHOW wal_level").Scan(&walLevel); err != nil {
		return fmt.Errorf("check wal_level: %w", err)
	}
	if walLevel == "minimal" {
		return apierror.Integrity(nil, "wal_level=minimal does not provide the write-ahead guarantees required by the ledger")
	}

	// Postgres enforces foreign keys unconditionally once declared; the
	// check that matters is that the constraints exist at all, which
	// migrations are responsible for. Session-level enforcement (as in
	// SQLite's PRAGMA foreign_keys) has no Postgres equivalent to
	// toggle, so there is nothing further to verify here.
	return nil
}

// Close closes the database pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic.
func (p *Pool) WithTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
