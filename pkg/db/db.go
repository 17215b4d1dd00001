// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	// Conn pins a single backend connection out of the pool, for statements
	// (such as a Postgres session-level advisory lock) whose effect is tied
	// to the backend that issued them rather than to the pool as a whole.
	// Callers must Close the returned *sql.Conn.
	Conn(ctx context.Context) (*sql.Conn, error)
	Close() error
}

// RDB wraps a *sql.DB and retries queries using an exponential backoff (with
// jitter) on lock_timeout errors.
type RDB struct {
	DB *sql.DB
}

// isLockTimeout reports whether err is the Postgres lock_not_available
// condition retryable methods below back off and retry on.
func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode
}

// retryOnLockTimeout runs attempt until it succeeds, returns a non-retryable
// error, or ctx is done, sleeping with exponential backoff between attempts
// that fail with a lock_timeout error.
func retryOnLockTimeout(ctx context.Context, attempt func() error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		err := attempt()
		if err == nil || !isLockTimeout(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
}

// ExecContext wraps sql.DB.ExecContext, retrying queries on lock_timeout errors.
func (db *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := retryOnLockTimeout(ctx, func() error {
		var execErr error
		res, execErr = db.DB.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// QueryContext wraps sql.DB.QueryContext, retrying queries on lock_timeout errors.
func (db *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := retryOnLockTimeout(ctx, func() error {
		var queryErr error
		rows, queryErr = db.DB.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// WithRetryableTransaction runs `f` in a transaction, retrying on lock_timeout
// errors raised by f itself. A failure to Commit is returned as-is: at that
// point f's work already committed or not atomically, so retrying by
// beginning a new transaction from scratch isn't safe.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := db.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil {
			return errRollback
		}

		if !isLockTimeout(err) {
			return err
		}
		if sleepErr := sleepCtx(ctx, b.Duration()); sleepErr != nil {
			return sleepErr
		}
	}
}

// Conn pins a dedicated backend connection from the pool.
func (db *RDB) Conn(ctx context.Context) (*sql.Conn, error) {
	return db.DB.Conn(ctx)
}

func (db *RDB) Close() error {
	return db.DB.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue is a helper function to scan the first value with the assumption that Rows contains
// a single row with a single value.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
