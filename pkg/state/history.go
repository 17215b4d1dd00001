// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/version"
)

// AddAppliedMigration inserts a row recording the outcome of executing one
// migration. installed_rank is assigned as one past the current maximum
// within the same statement the caller is expected to run inside the
// migration's own transaction (or, for non-transactional migrations,
// immediately after execution) so concurrent writers still serialize through
// the advisory lock held for the whole run.
func (s *Store) AddAppliedMigration(ctx context.Context, am migration.AppliedMigration) error {
	var versionStr sql.NullString
	if am.Version != nil {
		versionStr = sql.NullString{String: am.Version.String(), Valid: true}
	}
	var checksum sql.NullInt32
	if am.Checksum != nil {
		checksum = sql.NullInt32{Int32: *am.Checksum, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum,
			installed_by, installed_on, execution_time, success)
		VALUES (
			(SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM %[1]s),
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`, s.qualifiedTable())

	_, err := s.conn.ExecContext(ctx, query,
		versionStr, am.Description, string(am.Type), am.Script, checksum,
		am.InstalledBy, time.Unix(0, am.InstalledOn).UTC(), am.ExecutionTimeMillis/1, am.Success)
	if err != nil {
		return fmt.Errorf("recording applied migration %q: %w", am.Description, err)
	}
	return nil
}

// AllAppliedMigrations implements migration.HistoryReader, returning every
// row in installed_rank order.
func (s *Store) AllAppliedMigrations(ctx context.Context) ([]migration.AppliedMigration, error) {
	query := fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
			installed_by, installed_on, execution_time, success
		FROM %s ORDER BY installed_rank`, s.qualifiedTable())

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading schema history: %w", err)
	}
	defer rows.Close()

	var out []migration.AppliedMigration
	for rows.Next() {
		var (
			rank               int
			versionStr         sql.NullString
			description, typ   string
			script             string
			checksum           sql.NullInt32
			installedBy        string
			installedOn        time.Time
			executionTimeMs    int64
			success            bool
		)
		if err := rows.Scan(&rank, &versionStr, &description, &typ, &script, &checksum,
			&installedBy, &installedOn, &executionTimeMs, &success); err != nil {
			return nil, fmt.Errorf("scanning schema history row: %w", err)
		}

		am := migration.AppliedMigration{
			InstalledRank:       rank,
			Description:         description,
			Type:                migration.Type(typ),
			Script:              script,
			InstalledBy:         installedBy,
			InstalledOn:         installedOn.UnixNano(),
			ExecutionTimeMillis: executionTimeMs,
			Success:             success,
		}
		if versionStr.Valid {
			v, err := version.Parse(versionStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing stored version %q: %w", versionStr.String, err)
			}
			am.Version = &v
		}
		if checksum.Valid {
			c := checksum.Int32
			am.Checksum = &c
		}
		out = append(out, am)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schema history rows: %w", err)
	}
	return out, nil
}

// RemoveFailed deletes every schema history row recorded with success=false,
// clearing the way for a corrected migration to be re-attempted on the next
// run (the repair path spec.md §3's lifecycle note allows for).
func (s *Store) RemoveFailed(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE success = false`, s.qualifiedTable())
	res, err := s.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("removing failed schema history rows: %w", err)
	}
	return res.RowsAffected()
}

var _ migration.HistoryReader = (*Store)(nil)
