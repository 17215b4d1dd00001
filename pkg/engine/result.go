// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/driftline/driftline/pkg/migration"

// MigrationResult describes the outcome of attempting a single migration
// within a run.
type MigrationResult struct {
	Version         string
	Description     string
	Type            migration.Type
	Script          string
	ExecutionTimeMs int64
	State           string
	// ErrorCode classifies a FAILED migration by the underlying Postgres
	// condition name (e.g. "unique_violation"), when recognized. Empty for
	// successful migrations or errors outside the classified set.
	ErrorCode string
}

// MigrateResult is the structured outcome of one Migrate call.
type MigrateResult struct {
	// RunID identifies this Migrate call for log correlation across the
	// BEFORE_MIGRATE/.../AFTER_MIGRATE lifecycle.
	RunID                string
	InitialSchemaVersion string
	TargetSchemaVersion  string
	SchemaName           string
	MigrationsExecuted   int
	Migrations           []MigrationResult
	Warnings             []string
	Success              bool
	Database             string
	EngineVersion        string
}
