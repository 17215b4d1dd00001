// SPDX-License-Identifier: Apache-2.0

// Package state manages the schema history table: the record of which
// migrations have been applied to a database, and the advisory lock that
// keeps concurrent engine instances from racing on it.
package state

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/driftline/driftline/pkg/db"
)

// Store wraps a schema-qualified connection to the schema history table.
type Store struct {
	conn   db.DB
	schema string
	table  string

	binaryVersion string
}

// Opt configures a Store at construction time.
type Opt func(*Store)

// WithBinaryVersion records the running engine's version, used by
// VersionCompatibility.
func WithBinaryVersion(version string) Opt {
	return func(s *Store) { s.binaryVersion = version }
}

// New creates a Store. schema is the Postgres schema holding the history
// table (default "public" if empty); table is the history table's bare name
// (default "schema_history").
func New(conn db.DB, schema, table string, opts ...Opt) *Store {
	if schema == "" {
		schema = "public"
	}
	if table == "" {
		table = "schema_history"
	}
	s := &Store{conn: conn, schema: schema, table: table}
	for _, o := range opts {
		o(s)
	}
	return s
}

// qualifiedTable returns the schema-qualified, quoted table name.
func (s *Store) qualifiedTable() string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(s.schema), pq.QuoteIdentifier(s.table))
}

const createTableSQL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
	installed_rank  INTEGER NOT NULL,
	version         VARCHAR(128),
	description     VARCHAR(512) NOT NULL,
	type            VARCHAR(32) NOT NULL,
	script          VARCHAR(2048) NOT NULL,
	checksum        INTEGER,
	installed_by    VARCHAR(128) NOT NULL,
	installed_on    TIMESTAMPTZ NOT NULL DEFAULT now(),
	execution_time  INTEGER NOT NULL,
	success         BOOLEAN NOT NULL,
	CONSTRAINT %[3]s PRIMARY KEY (installed_rank)
);

CREATE INDEX IF NOT EXISTS %[4]s ON %[2]s (success);
`

// Create ensures the schema history table exists. Idempotent.
func (s *Store) Create(ctx context.Context) error {
	pkName := pq.QuoteIdentifier(s.table + "_pk")
	idxName := pq.QuoteIdentifier(s.table + "_s_idx")
	stmt := fmt.Sprintf(createTableSQL, pq.QuoteIdentifier(s.schema), s.qualifiedTable(), pkName, idxName)
	_, err := s.conn.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("creating schema history table: %w", err)
	}
	return nil
}

// Exists reports whether the schema history table has already been created.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT to_regclass($1) IS NOT NULL", s.qualifiedTable())
	if err != nil {
		return false, fmt.Errorf("checking schema history table existence: %w", err)
	}
	defer rows.Close()
	var exists bool
	if err := db.ScanFirstValue(rows, &exists); err != nil {
		return false, fmt.Errorf("checking schema history table existence: %w", err)
	}
	return exists, nil
}

// Drop removes the schema history table entirely. It never touches any
// other object in the schema, so it is safe to run against a schema holding
// user tables the history table happens to share.
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.qualifiedTable()))
	if err != nil {
		return fmt.Errorf("dropping schema history table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
