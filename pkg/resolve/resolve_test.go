// SPDX-License-Identifier: Apache-2.0

package resolve_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/resolve"
	"github.com/driftline/driftline/pkg/sqlparse"
)

func TestResolveMigrationsOrdersAndClassifies(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/V2__add_column.sql":  {Data: []byte("ALTER TABLE t ADD COLUMN b int;")},
		"migrations/V1__create_table.sql": {Data: []byte("CREATE TABLE t (a int);")},
		"migrations/R__refresh_view.sql":  {Data: []byte("CREATE OR REPLACE VIEW v AS SELECT * FROM t;")},
		"migrations/README.md":            {Data: []byte("not a migration")},
	}

	r := resolve.New(fsys, []string{"migrations"}, sqlparse.PostgresHooks{})
	resolved, err := r.ResolveMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, resolved, 3)

	assert.Equal(t, "1", resolved[0].Version.String())
	assert.Equal(t, "create table", resolved[0].Description)
	assert.Equal(t, "2", resolved[1].Version.String())
	assert.Equal(t, "add column", resolved[1].Description)
	assert.Nil(t, resolved[2].Version)
	assert.Equal(t, "refresh view", resolved[2].Description)

	for _, rm := range resolved {
		assert.NotNil(t, rm.Checksum)
		assert.NotNil(t, rm.Executor)
	}
}

func TestResolvedMigrationExecutorClassifiesNonTransactionalScript(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/V1__concurrent_index.sql": {Data: []byte("CREATE INDEX CONCURRENTLY idx ON t(a);")},
	}

	r := resolve.New(fsys, []string{"migrations"}, sqlparse.PostgresHooks{})
	resolved, err := r.ResolveMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	assert.Equal(t, migration.No, resolved[0].Executor.CanExecuteInTransaction())
}

func TestResolveMigrationsRejectsInvalidSyntax(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/V1__broken.sql": {Data: []byte("CREATE TABLE (a int;")},
	}

	r := resolve.New(fsys, []string{"migrations"}, sqlparse.PostgresHooks{})
	_, err := r.ResolveMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "V1__broken.sql")
}

func TestResolveMigrationsSkipsSyntaxCheckForStdinCopy(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/V1__seed.sql": {Data: []byte("COPY t (a) FROM STDIN;\n1\n\\.\n")},
	}

	r := resolve.New(fsys, []string{"migrations"}, sqlparse.PostgresHooks{})
	resolved, err := r.ResolveMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, resolved, 1)
}
