// SPDX-License-Identifier: Apache-2.0

// Package migration holds the core data model: resolved migrations supplied
// by an external resolver, applied migrations recorded in schema history,
// and the derived MigrationInfo state that joins the two.
package migration

import (
	"context"

	"github.com/driftline/driftline/pkg/version"
)

// Type tags a migration's kind.
type Type string

const (
	TypeSQL        Type = "SQL"
	TypeProcedural Type = "PROCEDURAL"
	TypeBaseline   Type = "BASELINE"
)

// TriState models "inherit engine default" alongside true/false, replacing
// a nullable boolean for clarity (see DESIGN NOTES in spec.md §9).
type TriState int

const (
	Inherit TriState = iota
	Yes
	No
)

// Executor is the capability a ResolvedMigration exposes to actually run
// itself. CanExecuteInTransaction is a parse-time classification (driven by
// pkg/sqlparse for SQL migrations); Execute performs the migration body
// against a live connection bound to the target schema.
type Executor interface {
	CanExecuteInTransaction() TriState
	Execute(ctx context.Context, execCtx ExecutionContext) error
}

// ExecutionContext is exposed to a migration's Execute call.
type ExecutionContext struct {
	Connection any // *sql.Tx, or the execution template's Conn (a *sql.DB from the CLI)
}

// ResolvedMigration is produced by an external Resolver (pkg/resolve is the
// bundled filesystem implementation). Immutable once constructed.
type ResolvedMigration struct {
	// Version is absent for repeatable migrations.
	Version     *version.MigrationVersion
	Description string
	Type        Type
	Script      string
	// Checksum is nullable. A nil checksum here matches only an applied row
	// whose stored checksum is also nil (see AppliedMigration.ChecksumMatches).
	Checksum *int32
	Executor Executor
}

// IsRepeatable reports whether this resolved migration has no version.
func (r *ResolvedMigration) IsRepeatable() bool {
	return r.Version == nil
}

// AppliedMigration is a row in schema history.
type AppliedMigration struct {
	InstalledRank       int
	Version             *version.MigrationVersion
	Description         string
	Type                Type
	Script              string
	Checksum            *int32
	InstalledBy         string
	InstalledOn         int64 // unix nanos; avoids a direct time.Time dependency for pure-function tests
	ExecutionTimeMillis int64
	Success             bool
}

// ChecksumMatches implements the nullable-checksum semantics of spec.md §4.3:
// a stored nil checksum matches any resolved checksum.
func (a *AppliedMigration) ChecksumMatches(resolved *int32) bool {
	if a.Checksum == nil {
		return true
	}
	if resolved == nil {
		return false
	}
	return *a.Checksum == *resolved
}

// State is the derived classification of a MigrationInfo record.
type State string

const (
	StatePending        State = "PENDING"
	StateAboveTarget     State = "ABOVE_TARGET"
	StateBelowBaseline   State = "BELOW_BASELINE"
	StateIgnored         State = "IGNORED"
	StateMissingSuccess  State = "MISSING_SUCCESS"
	StateMissingFailed   State = "MISSING_FAILED"
	StateFutureSuccess   State = "FUTURE_SUCCESS"
	StateFutureFailed    State = "FUTURE_FAILED"
	StateSuccess         State = "SUCCESS"
	StateFailed          State = "FAILED"
	StateOutOfOrder      State = "OUT_OF_ORDER"
	StateBaseline        State = "BASELINE"
	StateAvailable       State = "AVAILABLE"
)

// MigrationInfo joins a resolved and/or applied record and carries a state
// derived as a pure function of its inputs (see deriveState).
type MigrationInfo struct {
	Resolved *ResolvedMigration
	Applied  *AppliedMigration
	State    State
}

// Version returns the effective version: from Resolved if present, else
// Applied, else nil (repeatable with no applied row yet, which cannot
// actually occur for a repeatable's nil version — included for symmetry).
func (mi *MigrationInfo) Version() *version.MigrationVersion {
	if mi.Resolved != nil {
		return mi.Resolved.Version
	}
	if mi.Applied != nil {
		return mi.Applied.Version
	}
	return nil
}

func (mi *MigrationInfo) Description() string {
	if mi.Resolved != nil {
		return mi.Resolved.Description
	}
	if mi.Applied != nil {
		return mi.Applied.Description
	}
	return ""
}

// MigrationGroup is an ordered mapping from MigrationInfo to whether it is
// being applied out of order. Insertion order is execution order.
type MigrationGroup struct {
	entries []GroupEntry
}

type GroupEntry struct {
	Info        *MigrationInfo
	OutOfOrder  bool
}

func NewMigrationGroup() *MigrationGroup {
	return &MigrationGroup{}
}

func (g *MigrationGroup) Put(info *MigrationInfo, outOfOrder bool) {
	g.entries = append(g.entries, GroupEntry{Info: info, OutOfOrder: outOfOrder})
}

func (g *MigrationGroup) Entries() []GroupEntry {
	return g.entries
}

func (g *MigrationGroup) Size() int {
	return len(g.entries)
}

func (g *MigrationGroup) IsEmpty() bool {
	return len(g.entries) == 0
}
