// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/driftline/driftline/pkg/migration"

// runState carries everything one Migrate call accumulates as it loops over
// groups and migrations. It is threaded explicitly through the call chain
// rather than held on Engine, so concurrent Migrate calls against
// independently-constructed Engines never share mutable state (see
// DESIGN.md's note on this point).
type runState struct {
	seenRepeatable bool
	applied        []migration.ResolvedMigration
	results        []MigrationResult
	warnings       []string
	lockDepth      int
}

func newRunState() *runState {
	return &runState{}
}

func (rs *runState) addWarning(w string) {
	rs.warnings = append(rs.warnings, w)
}

func (rs *runState) addResult(r MigrationResult) {
	rs.results = append(rs.results, r)
}
