// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/version"
)

// ValidationIssue describes one way a resolved/applied migration pair has
// drifted from what schema history expects.
type ValidationIssue struct {
	Description string
	Version     string
	Reason      string
}

// ValidateReport is the outcome of a Validate call: no execution occurs.
type ValidateReport struct {
	Valid  bool
	Issues []ValidationIssue
}

// InfoRow is one line of a driftline info report: a resolved migration, an
// applied row, or both, joined by pkg/migration's InfoService.
type InfoRow struct {
	Version     string
	Description string
	Type        migration.Type
	State       migration.State
}

// Info returns the full classified snapshot of resolved and applied
// migrations, in the same order pkg/migration.InfoService builds it.
func (e *Engine) Info(ctx context.Context) ([]InfoRow, error) {
	info, err := e.refreshInfo(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]InfoRow, 0, len(info.Snapshot()))
	for _, mi := range info.Snapshot() {
		typ := migration.TypeSQL
		if mi.Resolved != nil {
			typ = mi.Resolved.Type
		} else if mi.Applied != nil {
			typ = mi.Applied.Type
		}
		rows = append(rows, InfoRow{
			Version:     versionString(mi.Version()),
			Description: mi.Description(),
			Type:        typ,
			State:       mi.State,
		})
	}
	return rows, nil
}

// Validate checks resolved migrations against schema history without
// executing anything: a versioned migration whose checksum no longer
// matches what was recorded means its script changed after being applied,
// and any FUTURE applied row (no matching resolved migration, above the
// highest resolved version) is flagged too. MISSING rows are not flagged.
// Repeatable checksum drift is not an issue here since it is
// handled by re-applying on the next Migrate call.
func (e *Engine) Validate(ctx context.Context) (*ValidateReport, error) {
	info, err := e.refreshInfo(ctx)
	if err != nil {
		return nil, err
	}

	report := &ValidateReport{Valid: true}
	for _, mi := range info.Resolved() {
		if mi.Applied == nil || mi.Resolved.Version == nil {
			continue
		}
		if !mi.Applied.ChecksumMatches(mi.Resolved.Checksum) {
			report.Valid = false
			report.Issues = append(report.Issues, ValidationIssue{
				Description: mi.Description(),
				Version:     versionString(mi.Resolved.Version),
				Reason:      "checksum mismatch: migration script has changed since it was applied",
			})
		}
	}
	for _, mi := range info.Future() {
		report.Valid = false
		report.Issues = append(report.Issues, ValidationIssue{
			Description: mi.Description(),
			Version:     versionString(mi.Version()),
			Reason:      "applied migration has no matching resolved migration",
		})
	}
	return report, nil
}

// Baseline records a synthetic TypeBaseline row at the given version so a
// pre-existing schema can adopt driftline without replaying history.
// Refuses to run if schema history already has an applied version at or
// above at.
func (e *Engine) Baseline(ctx context.Context, at version.MigrationVersion, description string) error {
	return e.locker.WithLock(ctx, func(ctx context.Context) error {
		info, err := e.refreshInfo(ctx)
		if err != nil {
			return err
		}
		if current := info.CurrentVersion(); !current.IsEmpty() && !current.Less(at) {
			return fmt.Errorf("cannot baseline at version %q: schema history already has applied version %q", at.String(), current.String())
		}

		return e.store.AddAppliedMigration(ctx, migration.AppliedMigration{
			Version:     &at,
			Description: description,
			Type:        migration.TypeBaseline,
			Script:      "<baseline>",
			InstalledBy: e.config.InstalledBy,
			InstalledOn: time.Now().UnixNano(),
			Success:     true,
		})
	})
}

// Repair clears failed schema history rows so their migrations can be
// re-attempted on the next Migrate call, per spec.md §3's lifecycle note
// that success may only transition false to true, never the reverse -
// repair removes the failed row rather than flipping it in place. Returns
// the number of rows removed.
func (e *Engine) Repair(ctx context.Context) (int64, error) {
	var removed int64
	err := e.locker.WithLock(ctx, func(ctx context.Context) error {
		n, err := e.store.RemoveFailed(ctx)
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	return removed, err
}
