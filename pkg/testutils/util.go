// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/driftline/driftline/pkg/db"
	"github.com/driftline/driftline/pkg/state"
)

// The version of postgres against which the tests are run
// if the POSTGRES_VERSION environment variable is not set.
const defaultPostgresVersion = "15.3"

// tConnStr holds the connection string to the test container created in TestMain.
var tConnStr string

// SharedTestMain starts a postgres container to be used by all tests in a package.
// Each test then connects to the container and creates a new database.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}

	tConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}

	os.Exit(exitCode)
}

// TestSchema returns the schema in which the schema history table lives for
// tests. By default this is "public".
func TestSchema() string {
	testSchema := os.Getenv("DRIFTLINE_TEST_SCHEMA")
	if testSchema != "" {
		return testSchema
	}
	return "public"
}

// WithConnectionToContainer hands the caller a fresh, empty database within
// the shared container.
func WithConnectionToContainer(t *testing.T, fn func(*sql.DB, string)) {
	t.Helper()

	conn, connStr, _ := setupTestDatabase(t)

	fn(conn, connStr)
}

// WithStoreAndConnectionToContainer hands the caller a state.Store already
// backed by a created schema history table, plus the raw connection.
func WithStoreAndConnectionToContainer(t *testing.T, fn func(*state.Store, *sql.DB)) {
	t.Helper()
	ctx := context.Background()

	conn, _, _ := setupTestDatabase(t)

	st := state.New(&db.RDB{DB: conn}, TestSchema(), "schema_history", state.WithBinaryVersion("dev"))
	if err := st.Create(ctx); err != nil {
		t.Fatal(err)
	}

	fn(st, conn)
}

// WithUninitializedStore hands the caller a state.Store whose table has not
// yet been created.
func WithUninitializedStore(t *testing.T, fn func(*state.Store)) {
	t.Helper()

	conn, _, _ := setupTestDatabase(t)

	st := state.New(&db.RDB{DB: conn}, TestSchema(), "schema_history", state.WithBinaryVersion("dev"))

	fn(st)
}

// setupTestDatabase creates a new database in the test container and returns:
// - a connection to the new database
// - the connection string to the new database
// - the name of the new database
func setupTestDatabase(t *testing.T) (*sql.DB, string, string) {
	t.Helper()
	ctx := context.Background()

	tDB, err := sql.Open("postgres", tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := tDB.Close(); err != nil {
			t.Fatalf("failed to close database connection: %v", err)
		}
	})

	dbName := randomDBName()

	_, err = tDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Fatalf("failed to close database connection: %v", err)
		}
	})

	return conn, connStr, dbName
}
