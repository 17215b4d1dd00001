// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
)

// lockKey derives a stable bigint advisory lock key from the schema-qualified
// table name, so distinct schema/table pairs don't contend with each other.
func (s *Store) lockKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.qualifiedTable()))
	return int64(h.Sum64())
}

// Locker serializes access to the schema history table across concurrent
// engine runs using a Postgres session-level advisory lock. A single process
// acquiring the lock more than once through the same Locker (e.g. a nested
// WithLock call) re-enters without blocking on itself, tracked by a depth
// counter.
//
// pg_advisory_lock/pg_advisory_unlock are scoped to the backend connection
// that issued them, not to the connection pool database/sql presents — two
// ExecContext calls against a *sql.DB are not guaranteed to land on the same
// backend. So the outermost WithLock call pins a single *sql.Conn for the
// lock's entire lifetime (acquire, re-entrant body, release) instead of
// going through the pool.
type Locker struct {
	store *Store

	mu    sync.Mutex
	depth int
	conn  *sql.Conn
}

func NewLocker(s *Store) *Locker {
	return &Locker{store: s}
}

// WithLock runs fn while holding the advisory lock, acquiring it (on a
// dedicated backend connection) if this is the outermost call and releasing
// it on return.
func (l *Locker) WithLock(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.depth == 0 {
		conn, err := l.store.conn.Conn(ctx)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("pinning connection for schema history lock: %w", err)
		}
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.store.lockKey()); err != nil {
			conn.Close()
			l.mu.Unlock()
			return fmt.Errorf("acquiring schema history lock: %w", err)
		}
		l.conn = conn
	}
	l.depth++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.depth--
		if l.depth == 0 {
			conn := l.conn
			l.conn = nil
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.store.lockKey())
			conn.Close()
		}
		l.mu.Unlock()
	}()

	return fn(ctx)
}
