// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/pkg/db"
	"github.com/driftline/driftline/pkg/engine"
	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/state"
	"github.com/driftline/driftline/pkg/version"
)

type fakeExecutor struct {
	canExec migration.TriState
	err     error
	calls   *int
}

func (f fakeExecutor) CanExecuteInTransaction() migration.TriState { return f.canExec }
func (f fakeExecutor) Execute(ctx context.Context, execCtx migration.ExecutionContext) error {
	if f.calls != nil {
		*f.calls++
	}
	return f.err
}

type fakeResolver struct {
	resolved []migration.ResolvedMigration
}

func (f fakeResolver) ResolveMigrations(ctx context.Context) ([]migration.ResolvedMigration, error) {
	return f.resolved, nil
}

func newMockStore(t *testing.T) (*state.Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	st := state.New(&db.RDB{DB: mockDB}, "public", "schema_history", state.WithBinaryVersion("dev"))
	return st, mock, mockDB
}

func TestMigrateRunsPendingGroupAndRecordsHistory(t *testing.T) {
	v1 := version.MustParse("1")
	calls := 0
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Version: &v1, Description: "create table", Type: migration.TypeSQL, Script: "V1__create_table.sql", Executor: fakeExecutor{canExec: migration.Inherit, calls: &calls}},
	}}

	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}).
			AddRow(1, "1", "create table", "SQL", "V1__create_table.sql", nil, "driftline", time.Now(), 0, true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{
		InstalledBy:   "driftline",
		EngineVersion: "dev",
		Target:        version.Latest,
	})

	result, err := e.Migrate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MigrationsExecuted)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackTransactionalGroupOnFailure(t *testing.T) {
	v1 := version.MustParse("1")
	wantErr := errors.New("boom")
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Version: &v1, Description: "broken migration", Type: migration.TypeSQL, Script: "V1__broken.sql", Executor: fakeExecutor{canExec: migration.Inherit, err: wantErr}},
	}}

	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}))

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{
		InstalledBy:   "driftline",
		EngineVersion: "dev",
		Target:        version.Latest,
	})

	result, err := e.Migrate(context.Background())
	require.Error(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Migrations, 1)
	assert.Equal(t, "FAILED", result.Migrations[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateNextTargetSetsTargetSchemaVersion(t *testing.T) {
	v1 := version.MustParse("1")
	calls := 0
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Version: &v1, Description: "create table", Type: migration.TypeSQL, Script: "V1__create_table.sql", Executor: fakeExecutor{canExec: migration.Inherit, calls: &calls}},
	}}

	st, mock, mockDB := newMockStore(t)
	defer mockDB.Close()

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT installed_rank, version, description, type, script, checksum").
		WillReturnRows(sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"}).
			AddRow(1, "1", "create table", "SQL", "V1__create_table.sql", nil, "driftline", time.Now(), 0, true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	e := engine.New(mockDB, st, state.NewLocker(st), resolver, engine.Config{
		InstalledBy:   "driftline",
		EngineVersion: "dev",
		Target:        version.Next,
	})

	result, err := e.Migrate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.MigrationsExecuted)
	assert.Equal(t, "1", result.TargetSchemaVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}
