// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/connstr"
	"github.com/driftline/driftline/pkg/config"
	"github.com/driftline/driftline/pkg/db"
	"github.com/driftline/driftline/pkg/engine"
	"github.com/driftline/driftline/pkg/resolve"
	"github.com/driftline/driftline/pkg/sqlparse"
	"github.com/driftline/driftline/pkg/state"
)

// Version is the driftline binary version, overridden at build time via
// -ldflags.
var Version = "development"

var rootCmd = &cobra.Command{
	Use:          "driftline",
	Short:        "A Flyway-style SQL schema migration engine for PostgreSQL",
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	config.BindFlags(rootCmd)
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(baselineCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(cleanHistoryCmd())

	return rootCmd.Execute()
}

// buildEngine wires a store, locker, filesystem resolver, and engine from
// the resolved Configuration, opening a fresh *sql.DB connection. Callers
// must close the returned *sql.DB.
func buildEngine(ctx context.Context, migrationsDir []string) (*engine.Engine, *sql.DB, error) {
	cfg, err := config.Resolve(migrationsDir)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := connstr.AppendSearchPathOption(cfg.PostgresURL, cfg.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("building connection string: %w", err)
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	st := state.New(&db.RDB{DB: conn}, cfg.HistorySchema, cfg.HistoryTable, state.WithBinaryVersion(Version))
	if err := st.Create(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("initializing schema history: %w", err)
	}

	resolver, err := buildResolver(cfg.MigrationsDir)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	engineConfig, err := cfg.EngineConfig(Version)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	e := engine.New(conn, st, state.NewLocker(st), resolver, engineConfig, engine.WithLogger(engine.NewLogger()))
	return e, conn, nil
}

// buildStore opens a connection and schema history store without a resolver
// or engine, for commands that only touch schema history (e.g. clean-history).
func buildStore(ctx context.Context) (*state.Store, *sql.DB, error) {
	cfg, err := config.Resolve(nil)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := connstr.AppendSearchPathOption(cfg.PostgresURL, cfg.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("building connection string: %w", err)
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	st := state.New(&db.RDB{DB: conn}, cfg.HistorySchema, cfg.HistoryTable, state.WithBinaryVersion(Version))
	return st, conn, nil
}

func buildResolver(dirs []string) (*resolve.Resolver, error) {
	abs := make([]string, 0, len(dirs))
	for _, d := range dirs {
		a, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("resolving migrations directory %q: %w", d, err)
		}
		abs = append(abs, strings.TrimPrefix(a, string(filepath.Separator)))
	}
	return resolve.New(os.DirFS(string(filepath.Separator)), abs, sqlparse.PostgresHooks{}), nil
}
