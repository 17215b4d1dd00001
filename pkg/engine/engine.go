// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates one migration run: planning groups via
// pkg/planner, running each group's body inside the boundary pkg/txtemplate
// builds, and recording outcomes through pkg/state.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/driftline/driftline/internal/testutils"
	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/planner"
	"github.com/driftline/driftline/pkg/state"
	"github.com/driftline/driftline/pkg/txtemplate"
	"github.com/driftline/driftline/pkg/version"
)

// DatabaseAdapter is the dialect-specific connection/session capability
// spec.md §9 calls for: restoring connectionUserObjects to its original state
// and switching the current schema ahead of each migration in a group,
// keeping doMigrateGroup itself free of Postgres-specific commands.
type DatabaseAdapter interface {
	// ResetSession runs before every migration in a group. inTransaction
	// reports whether execCtx.Connection is a *sql.Tx shared by the rest of
	// the group, since some session-reset statements (DISCARD ALL) are
	// illegal inside a transaction block and only apply between migrations
	// that each get their own.
	ResetSession(ctx context.Context, execCtx migration.ExecutionContext, schemaName string, inTransaction bool) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// postgresAdapter is the default DatabaseAdapter: DISCARD ALL resets
// session-local settings, prepared statements, and temp tables between
// non-transactional migrations (a transaction can't issue DISCARD ALL, so
// that part is skipped for transactional groups), and SET search_path moves
// the connection's current schema to the run's configured schema.
type postgresAdapter struct{}

func (postgresAdapter) ResetSession(ctx context.Context, execCtx migration.ExecutionContext, schemaName string, inTransaction bool) error {
	ex, ok := execCtx.Connection.(execer)
	if !ok {
		return nil
	}
	if !inTransaction {
		if _, err := ex.ExecContext(ctx, "DISCARD ALL"); err != nil {
			return fmt.Errorf("restoring connection to original state: %w", err)
		}
	}
	if schemaName != "" {
		if _, err := ex.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schemaName))); err != nil {
			return fmt.Errorf("switching current schema to %q: %w", schemaName, err)
		}
	}
	return nil
}

// classifyError maps a failed migration's underlying error to one of the
// constraint-violation condition names a user is most likely to want
// surfaced distinctly in a MigrationResult, when the driver reports one.
func classifyError(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	switch pqErr.Code.Name() {
	case testutils.CheckViolationErrorCode,
		testutils.FKViolationErrorCode,
		testutils.NotNullViolationErrorCode,
		testutils.UniqueViolationErrorCode:
		return pqErr.Code.Name()
	default:
		return ""
	}
}

// Config is the resolved, validated set of options a run executes under.
// pkg/config is responsible for producing one of these from CLI flags,
// environment variables, and config files.
type Config struct {
	Group                   bool
	Mixed                   bool
	OutOfOrder              bool
	Target                  version.Target
	CherryPick              []string
	SkipExecutingMigrations bool
	IgnoreMigrationPatterns []string

	SchemaName    string
	InstalledBy   string
	EngineVersion string
}

func (c Config) ignoresFuture() bool {
	for _, p := range c.IgnoreMigrationPatterns {
		if p == "future" {
			return true
		}
	}
	return false
}

// Engine ties together migration discovery, schema history, and execution
// for one database.
type Engine struct {
	conn      txtemplate.Conn
	store     *state.Store
	locker    *state.Locker
	resolver  migration.Resolver
	logger    Logger
	callbacks Callbacks
	dbAdapter DatabaseAdapter
	config    Config
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithCallbacks(c Callbacks) Option {
	return func(e *Engine) { e.callbacks = c }
}

// WithDatabaseAdapter overrides the per-migration session-reset hook. Tests
// and alternate dialects can supply their own; the default is Postgres's.
func WithDatabaseAdapter(a DatabaseAdapter) Option {
	return func(e *Engine) { e.dbAdapter = a }
}

// New builds an Engine. conn is the connection migrations execute against;
// store and locker guard the schema history table.
func New(conn txtemplate.Conn, store *state.Store, locker *state.Locker, resolver migration.Resolver, config Config, opts ...Option) *Engine {
	e := &Engine{
		conn:      conn,
		store:     store,
		locker:    locker,
		resolver:  resolver,
		config:    config,
		logger:    NewNoopLogger(),
		callbacks: NoopCallbacks(),
		dbAdapter: postgresAdapter{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Migrate runs migrations to the configured target, following the
// BEFORE_MIGRATE / ... / AFTER_MIGRATE lifecycle from spec.md §6.
func (e *Engine) Migrate(ctx context.Context) (*MigrateResult, error) {
	e.callbacks.BeforeMigrate()
	runID := uuid.New().String()
	e.logger.LogMigrateStart(runID)

	rs := newRunState()
	result := &MigrateResult{
		RunID:         runID,
		SchemaName:    e.config.SchemaName,
		Database:      "postgresql",
		EngineVersion: e.config.EngineVersion,
	}

	var err error
	if e.config.Group {
		rs.lockDepth++
		err = e.locker.WithLock(ctx, func(ctx context.Context) error {
			return e.runLoop(ctx, rs, result)
		})
		rs.lockDepth--
	} else {
		err = e.runLoop(ctx, rs, result)
	}

	result.MigrationsExecuted = len(rs.applied)
	result.Migrations = rs.results
	result.Warnings = rs.warnings
	result.Success = err == nil

	if result.MigrationsExecuted > 0 {
		e.callbacks.AfterMigrateApplied(result.MigrationsExecuted)
	}
	if err != nil {
		e.callbacks.AfterMigrateError(err)
	}
	e.callbacks.AfterMigrate()
	e.logger.LogMigrateComplete(result.MigrationsExecuted)

	return result, err
}

// runLoop plans and executes groups until an empty group is returned or the
// target is NEXT (exactly one iteration).
func (e *Engine) runLoop(ctx context.Context, rs *runState, result *MigrateResult) error {
	for {
		done, err := e.runIteration(ctx, rs, result)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// runIteration plans and, if non-empty, executes one group. When the engine
// is not configured to group every pending migration into one run-wide
// transaction, the schema-history lock is acquired and released around just
// this iteration so concurrent runs interleave at group granularity instead
// of being serialized for the whole run.
func (e *Engine) runIteration(ctx context.Context, rs *runState, result *MigrateResult) (done bool, err error) {
	iter := func(ctx context.Context) error {
		info, err := e.refreshInfo(ctx)
		if err != nil {
			return err
		}
		if result.InitialSchemaVersion == "" {
			result.InitialSchemaVersion = info.CurrentVersion().String()
		}

		plan, err := planner.Plan(info, e.plannerOptions())
		if err != nil {
			return err
		}
		for _, w := range plan.Warnings {
			rs.addWarning(w)
			e.logger.Warn(w)
		}

		if plan.Group.IsEmpty() {
			result.TargetSchemaVersion = info.CurrentVersion().String()
			done = true
			return nil
		}

		e.logger.LogGroupPlanned(plan.Group.Size(), modeString(plan.Mode))

		if err := e.executeGroup(ctx, plan, rs, result); err != nil {
			return err
		}

		if e.config.Target.IsNext() {
			postInfo, err := e.refreshInfo(ctx)
			if err != nil {
				return err
			}
			result.TargetSchemaVersion = postInfo.CurrentVersion().String()
			done = true
		}
		return nil
	}

	if e.config.Group {
		// Already holding the run-wide lock acquired in Migrate.
		err = iter(ctx)
	} else {
		rs.lockDepth++
		err = e.locker.WithLock(ctx, iter)
		rs.lockDepth--
	}
	return done, err
}

func (e *Engine) executeGroup(ctx context.Context, plan *planner.Plan, rs *runState, result *MigrateResult) error {
	executeInTransaction := plan.Mode == planner.ModeTransactional

	body := func(ctx context.Context, execCtx migration.ExecutionContext) error {
		return e.doMigrateGroup(ctx, plan.Group, execCtx, executeInTransaction, rs, result)
	}

	return txtemplate.Run(ctx, e.conn, executeInTransaction, rs.lockDepth > 0, body)
}

// doMigrateGroup runs every entry in the group per spec.md §4.6: fire
// BEFORE_EACH_MIGRATE, execute, and on success append a schema history row
// and fire AFTER_EACH_MIGRATE; on failure fire AFTER_EACH_MIGRATE_ERROR and,
// for non-transactional groups only, append a failed row so the next run
// observes it before re-raising.
func (e *Engine) doMigrateGroup(ctx context.Context, group *migration.MigrationGroup, execCtx migration.ExecutionContext, executeInTransaction bool, rs *runState, result *MigrateResult) error {
	for _, entry := range group.Entries() {
		info := entry.Info

		if info.Resolved != nil && info.Resolved.Version == nil && !rs.seenRepeatable {
			rs.seenRepeatable = true
			e.callbacks.AfterVersioned()
			e.callbacks.BeforeRepeatables()
		}

		e.callbacks.BeforeEachMigrate(info)
		e.logger.LogMigrationStart(info.Description())

		if err := e.dbAdapter.ResetSession(ctx, execCtx, e.config.SchemaName, executeInTransaction); err != nil {
			return fmt.Errorf("preparing connection for migration %q: %w", info.Description(), err)
		}

		start := time.Now()
		var execErr error
		if !e.config.SkipExecutingMigrations && info.Resolved != nil && info.Resolved.Executor != nil {
			execErr = info.Resolved.Executor.Execute(ctx, execCtx)
		}
		elapsed := time.Since(start)

		am := migration.AppliedMigration{
			Version:             info.Resolved.Version,
			Description:         info.Description(),
			Type:                info.Resolved.Type,
			Script:              info.Resolved.Script,
			Checksum:            info.Resolved.Checksum,
			InstalledBy:         e.config.InstalledBy,
			InstalledOn:         time.Now().UnixNano(),
			ExecutionTimeMillis: elapsed.Milliseconds(),
		}

		if execErr == nil {
			am.Success = true
			if err := e.store.AddAppliedMigration(ctx, am); err != nil {
				return fmt.Errorf("recording applied migration %q: %w", info.Description(), err)
			}
			rs.applied = append(rs.applied, *info.Resolved)
			rs.addResult(MigrationResult{
				Version:         versionString(info.Resolved.Version),
				Description:     info.Description(),
				Type:            info.Resolved.Type,
				Script:          info.Resolved.Script,
				ExecutionTimeMs: elapsed.Milliseconds(),
				State:           "SUCCESS",
			})
			e.callbacks.AfterEachMigrate(info)
			e.logger.LogMigrationComplete(info.Description())
			continue
		}

		e.callbacks.AfterEachMigrateError(info, execErr)
		e.logger.LogMigrationFailed(info.Description(), execErr)
		rs.addResult(MigrationResult{
			Version:         versionString(info.Resolved.Version),
			Description:     info.Description(),
			Type:            info.Resolved.Type,
			Script:          info.Resolved.Script,
			ExecutionTimeMs: elapsed.Milliseconds(),
			State:           "FAILED",
			ErrorCode:       classifyError(execErr),
		})

		if !executeInTransaction {
			am.Success = false
			if err := e.store.AddAppliedMigration(ctx, am); err != nil {
				return fmt.Errorf("recording failed migration %q: %w", info.Description(), err)
			}
		}

		return fmt.Errorf("migration %q failed: %w", info.Description(), execErr)
	}
	return nil
}

func (e *Engine) refreshInfo(ctx context.Context) (*migration.InfoService, error) {
	opts := migration.RefreshOptions{
		OutOfOrder:     e.config.OutOfOrder,
		Target:         e.config.Target,
		CherryPick:     e.config.CherryPick,
		IgnorePatterns: e.config.IgnoreMigrationPatterns,
	}
	info := migration.NewInfoService(e.resolver, e.store, opts)
	if err := info.Refresh(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

func (e *Engine) plannerOptions() planner.Options {
	return planner.Options{
		Group:                   e.config.Group,
		Mixed:                   e.config.Mixed,
		SupportsDDLTransactions: true,
		IgnoreFuturePattern:     e.config.ignoresFuture(),
	}
}

func modeString(m planner.Mode) string {
	if m == planner.ModeTransactional {
		return "transactional"
	}
	return "non-transactional"
}

func versionString(v *version.MigrationVersion) string {
	if v == nil {
		return ""
	}
	return v.String()
}
