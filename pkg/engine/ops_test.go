// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/pkg/engine"
	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/state"
	"github.com/driftline/driftline/pkg/version"
)

func TestValidateReportsChecksumMismatch(t *testing.T) {
	v1 := version.MustParse("1")
	oldChecksum := int32(1)
	newChecksum := int32(2)
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Version: &v1, Description: "create table", Type: migration.TypeSQL, Checksum: &newChecksum, Executor: fakeExecutor{}},
	}}

	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}).
			AddRow(1, "1", "create table", "SQL", "V1__create_table.sql", oldChecksum, "driftline", time.Now(), 0, true))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{InstalledBy: "driftline"})
	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "create table", report.Issues[0].Description)
}

func TestValidatePassesWhenChecksumsMatch(t *testing.T) {
	v1 := version.MustParse("1")
	checksum := int32(7)
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Version: &v1, Description: "create table", Type: migration.TypeSQL, Checksum: &checksum, Executor: fakeExecutor{}},
	}}

	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}).
			AddRow(1, "1", "create table", "SQL", "V1__create_table.sql", checksum, "driftline", time.Now(), 0, true))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{InstalledBy: "driftline"})
	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
}

func TestBaselineInsertsSyntheticRow(t *testing.T) {
	resolver := fakeResolver{}
	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{InstalledBy: "driftline"})
	err := e.Baseline(context.Background(), version.MustParse("1"), "baseline")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBaselineRejectsWhenHistoryAlreadyAhead(t *testing.T) {
	resolver := fakeResolver{}
	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}).
			AddRow(1, "2", "create table", "SQL", "V2__create_table.sql", nil, "driftline", time.Now(), 0, true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{InstalledBy: "driftline"})
	err := e.Baseline(context.Background(), version.MustParse("1"), "baseline")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepairRemovesFailedRows(t *testing.T) {
	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), fakeResolver{}, engine.Config{InstalledBy: "driftline"})
	removed, err := e.Repair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
