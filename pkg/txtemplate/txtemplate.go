// SPDX-License-Identifier: Apache-2.0

// Package txtemplate wraps a migration body in the correct transactional
// boundary for its planned mode, per spec.md §4.5.
package txtemplate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/driftline/driftline/pkg/migration"
)

// Conn is the subset of *sql.DB a Template needs to start transactions and
// run non-transactional bodies directly.
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SingleConnection marks a Conn that multiplexes exactly one underlying
// database connection (e.g. SQLite, or Postgres accessed through a session
// pinned to one backend). The execution template needs this to implement
// the single-connection auto-commit quirk from spec.md §4.5: Postgres pools
// don't need it since each transaction is isolated to its own backend.
type SingleConnection interface {
	Conn
	// SetAutoCommit toggles session-level auto-commit on the one shared
	// connection.
	SetAutoCommit(ctx context.Context, enabled bool) error
}

// Body is the callable executed under the template's transactional boundary.
// execCtx.Connection is the *sql.Tx when executeInTransaction is true, and
// the Conn passed to Run otherwise.
type Body func(ctx context.Context, execCtx migration.ExecutionContext) error

// Run executes body under the transactional boundary dictated by
// executeInTransaction. When true, a transaction is opened, body runs with
// it as the execution context's connection, and the transaction is
// committed on success or rolled back and the error returned otherwise.
// When false, body runs directly against conn with auto-commit left to the
// body itself; no rollback is attempted on error.
//
// lockHeld reports whether the caller is already holding the schema-history
// lock with auto-commit forced off on a single-connection database; in that
// case a non-transactional body needs auto-commit temporarily re-enabled so
// its own statements (which may themselves be non-transactional, like
// CREATE INDEX CONCURRENTLY) don't end up wrapped in the lock's transaction.
func Run(ctx context.Context, conn Conn, executeInTransaction bool, lockHeld bool, body Body) error {
	if executeInTransaction {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		if err := body(ctx, migration.ExecutionContext{Connection: tx}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("migration failed (%w) and rollback failed: %v", err, rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	}

	if sc, ok := conn.(SingleConnection); ok && lockHeld {
		if err := sc.SetAutoCommit(ctx, true); err != nil {
			return fmt.Errorf("enabling auto-commit for non-transactional migration: %w", err)
		}
		defer func() { _ = sc.SetAutoCommit(ctx, false) }()
	}

	return body(ctx, migration.ExecutionContext{Connection: conn})
}
