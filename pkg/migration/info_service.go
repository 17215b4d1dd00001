// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/driftline/driftline/pkg/version"
)

// RefreshOptions carries the subset of engine configuration that the info
// service needs to classify migrations. It is a plain struct (rather than a
// dependency on pkg/config) so pkg/migration has no import back onto the
// config layer.
type RefreshOptions struct {
	OutOfOrder bool
	Target     version.Target
	// CherryPick restricts pending() to these versions/descriptions. An empty
	// slice means no restriction.
	CherryPick []string
	// IgnorePatterns downgrades specified states to warnings instead of
	// blocking. Patterns are matched against "<state>" tokens, e.g. "future".
	IgnorePatterns []string
}

func (o RefreshOptions) isCherryPicked(identifier string) bool {
	if len(o.CherryPick) == 0 {
		return true
	}
	for _, c := range o.CherryPick {
		if c == identifier {
			return true
		}
	}
	return false
}

func (o RefreshOptions) ignores(token string) bool {
	token = strings.ToLower(token)
	for _, p := range o.IgnorePatterns {
		if strings.EqualFold(p, token) {
			return true
		}
	}
	return false
}

// HistoryReader is the read side of the schema history store (pkg/state
// implements it) that the info service joins resolved migrations against.
type HistoryReader interface {
	AllAppliedMigrations(ctx context.Context) ([]AppliedMigration, error)
}

// Resolver lists resolved migrations (pkg/resolve implements it).
type Resolver interface {
	ResolveMigrations(ctx context.Context) ([]ResolvedMigration, error)
}

// InfoService materializes a snapshot joining resolved migrations against
// schema history and classifies each into a MigrationInfo with a derived
// state. Rebuilt fresh on every Refresh call.
type InfoService struct {
	resolver Resolver
	history  HistoryReader
	options  RefreshOptions

	snapshot []*MigrationInfo
}

func NewInfoService(resolver Resolver, history HistoryReader, opts RefreshOptions) *InfoService {
	return &InfoService{resolver: resolver, history: history, options: opts}
}

// Refresh re-reads resolved migrations and schema history and rebuilds the
// snapshot.
func (s *InfoService) Refresh(ctx context.Context) error {
	resolved, err := s.resolver.ResolveMigrations(ctx)
	if err != nil {
		return fmt.Errorf("resolving migrations: %w", err)
	}
	applied, err := s.history.AllAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading schema history: %w", err)
	}

	s.snapshot = buildSnapshot(resolved, applied, s.options)
	return nil
}

// Snapshot returns the full set of MigrationInfo records from the last
// Refresh, in resolved order (versioned ascending, then repeatables by
// description) followed by any future/missing applied-only records.
func (s *InfoService) Snapshot() []*MigrationInfo {
	return s.snapshot
}

// Current returns the latest successful versioned applied migration, or nil.
func (s *InfoService) Current() *MigrationInfo {
	var current *MigrationInfo
	for _, mi := range s.snapshot {
		if mi.Applied == nil || !mi.Applied.Success || mi.Applied.Version == nil {
			continue
		}
		if current == nil || mi.Applied.Version.Greater(*current.Applied.Version) {
			current = mi
		}
	}
	return current
}

// CurrentVersion returns the version of Current(), or version.Empty if there
// is none.
func (s *InfoService) CurrentVersion() version.MigrationVersion {
	c := s.Current()
	if c == nil || c.Applied.Version == nil {
		return version.Empty
	}
	return *c.Applied.Version
}

// Pending returns resolved-not-yet-applied migrations, subject to target and
// cherry-pick restrictions already baked into the snapshot's state.
func (s *InfoService) Pending() []*MigrationInfo {
	var out []*MigrationInfo
	for _, mi := range s.snapshot {
		if mi.State == StatePending || mi.State == StateOutOfOrder {
			out = append(out, mi)
		}
	}
	return out
}

// Future returns applied migrations with no matching resolved migration.
func (s *InfoService) Future() []*MigrationInfo {
	var out []*MigrationInfo
	for _, mi := range s.snapshot {
		if mi.State == StateFutureSuccess || mi.State == StateFutureFailed {
			out = append(out, mi)
		}
	}
	return out
}

// Failed returns applied rows with success=false, ordered by installed rank.
func (s *InfoService) Failed() []*MigrationInfo {
	var out []*MigrationInfo
	for _, mi := range s.snapshot {
		if mi.Applied != nil && !mi.Applied.Success {
			out = append(out, mi)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Applied.InstalledRank < out[j].Applied.InstalledRank
	})
	return out
}

// Resolved returns all resolved migrations, in version order with
// repeatables last ordered by description.
func (s *InfoService) Resolved() []*MigrationInfo {
	var out []*MigrationInfo
	for _, mi := range s.snapshot {
		if mi.Resolved != nil {
			out = append(out, mi)
		}
	}
	return out
}

// buildSnapshot is the pure join+classify step described in spec.md §4.2.
func buildSnapshot(resolved []ResolvedMigration, applied []AppliedMigration, opts RefreshOptions) []*MigrationInfo {
	// Determine current version (latest successful versioned applied row) up
	// front, since several states are defined relative to it.
	current := version.Empty
	appliedByVersion := map[string]*AppliedMigration{}
	appliedByDescription := map[string]*AppliedMigration{}
	consumed := map[*AppliedMigration]bool{}

	for i := range applied {
		a := &applied[i]
		if a.Version != nil {
			appliedByVersion[a.Version.String()] = a
			if a.Success && a.Version.Greater(current) {
				current = *a.Version
			}
		} else {
			appliedByDescription[a.Description] = a
		}
	}

	sortResolved(resolved)

	// An unmatched applied row above the highest resolved version is FUTURE;
	// one at or below it is MISSING.
	latestResolved := version.Empty
	for i := range resolved {
		if v := resolved[i].Version; v != nil && v.Greater(latestResolved) {
			latestResolved = *v
		}
	}

	var out []*MigrationInfo
	for i := range resolved {
		r := &resolved[i]
		var a *AppliedMigration
		if r.Version != nil {
			a = appliedByVersion[r.Version.String()]
		} else {
			a = appliedByDescription[r.Description]
		}
		if a != nil {
			consumed[a] = true
		}

		identifier := identifierOf(r.Version, r.Description)
		state := deriveState(r, a, current, opts, identifier)
		out = append(out, &MigrationInfo{Resolved: r, Applied: a, State: state})
	}

	// Applied rows with no matching resolved migration: FUTURE or MISSING.
	for i := range applied {
		a := &applied[i]
		if consumed[a] {
			continue
		}
		state := StateMissingSuccess
		if !a.Success {
			state = StateMissingFailed
		}
		if a.Version != nil && a.Version.Greater(latestResolved) {
			if a.Success {
				state = StateFutureSuccess
			} else {
				state = StateFutureFailed
			}
		}
		out = append(out, &MigrationInfo{Applied: a, State: state})
	}

	return out
}

func deriveState(r *ResolvedMigration, a *AppliedMigration, current version.MigrationVersion, opts RefreshOptions, identifier string) State {
	if a != nil {
		if a.Type == TypeBaseline {
			return StateBaseline
		}
		if !a.Success {
			return StateFailed
		}
		// A repeatable migration re-applies whenever its checksum changes;
		// a matching checksum (including the nullable-checksum wildcard)
		// means it's still up to date.
		if r.Version == nil && !a.ChecksumMatches(r.Checksum) {
			if opts.ignores("pending") || !opts.isCherryPicked(identifier) {
				return StateIgnored
			}
			return StatePending
		}
		return StateSuccess
	}

	// Not yet applied.
	if !opts.isCherryPicked(identifier) {
		return StateIgnored
	}
	if opts.ignores("pending") {
		return StateIgnored
	}

	if tv, ok := opts.Target.Version(); ok && r.Version != nil && r.Version.Greater(tv) {
		return StateAboveTarget
	}
	if opts.Target.IsCurrent() && r.Version != nil && r.Version.Greater(current) {
		return StateAboveTarget
	}

	if r.Version != nil && r.Version.Less(current) {
		if !opts.OutOfOrder {
			return StateBelowBaseline
		}
		return StateOutOfOrder
	}

	return StatePending
}

func identifierOf(v *version.MigrationVersion, description string) string {
	if v != nil {
		return v.String()
	}
	return description
}

func sortResolved(resolved []ResolvedMigration) {
	sort.SliceStable(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.Version != nil && b.Version != nil {
			return a.Version.Less(*b.Version)
		}
		// Versioned migrations sort before repeatables.
		if a.Version != nil {
			return true
		}
		if b.Version != nil {
			return false
		}
		return a.Description < b.Description
	})
}
