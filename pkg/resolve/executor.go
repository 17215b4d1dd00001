package resolve

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/sqlparse"
)

// sqlExecutor implements migration.Executor by lazily splitting a script
// into statements with pkg/sqlparse and running each in turn. It reports the
// conjunction of every statement's classification: if any statement is
// known non-transactional the whole script can't run in a transaction; if
// none state an opinion the script inherits the engine's default.
type sqlExecutor struct {
	script string
	hooks  sqlparse.DialectHooks
	ctx    sqlparse.ParsingContext
}

func (r *Resolver) newExecutor(script string) *sqlExecutor {
	return &sqlExecutor{script: script, hooks: r.parsingHooks, ctx: r.parsingCtx}
}

func (e *sqlExecutor) statements() ([]*sqlparse.ParsedStatement, error) {
	p := sqlparse.New(e.script, e.ctx, e.hooks)
	var out []*sqlparse.ParsedStatement
	for {
		stmt, err := p.Next()
		if err != nil {
			return nil, err
		}
		if stmt == nil {
			return out, nil
		}
		out = append(out, stmt)
	}
}

func (e *sqlExecutor) CanExecuteInTransaction() migration.TriState {
	stmts, err := e.statements()
	if err != nil {
		// A script that won't even parse can't be vouched for; treat it the
		// same as an explicit non-transactional statement so the caller falls
		// back to the single-statement-at-a-time path, which surfaces the
		// parse error at execution time with full position information.
		return migration.No
	}

	state := migration.Inherit
	for _, s := range stmts {
		switch s.CanExecuteInTransaction {
		case migration.No:
			return migration.No
		case migration.Yes:
			state = migration.Yes
		}
	}
	return state
}

// Execute runs every statement in the script in source order against the
// connection carried in execCtx. The connection may be a *sql.Tx (the
// transactional path) or anything satisfying execer (the non-transactional
// path, one statement per implicit auto-commit).
func (e *sqlExecutor) Execute(ctx context.Context, execCtx migration.ExecutionContext) error {
	stmts, err := e.statements()
	if err != nil {
		return fmt.Errorf("parsing migration script: %w", err)
	}

	execer, ok := execCtx.Connection.(execer)
	if !ok {
		return fmt.Errorf("execution context connection does not support ExecContext")
	}

	for _, stmt := range stmts {
		if stmt.Type == sqlparse.StatementTypeCopy {
			if err := execCopy(ctx, execCtx.Connection, stmt); err != nil {
				return fmt.Errorf("executing COPY statement at line %d: %w", stmt.Line, err)
			}
			continue
		}

		if _, err := execer.ExecContext(ctx, stmt.SQLText); err != nil {
			return fmt.Errorf("executing statement at line %d: %w", stmt.Line, err)
		}
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// copyPreparer is satisfied by *sql.Tx and *sql.DB, the two connection types
// that can prepare a pq.CopyIn statement.
type copyPreparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func execCopy(ctx context.Context, conn any, stmt *sqlparse.ParsedStatement) error {
	prep, ok := conn.(copyPreparer)
	if !ok {
		return fmt.Errorf("connection does not support prepared COPY statements")
	}

	table, columns, err := parseCopyTarget(stmt.SQLText)
	if err != nil {
		return err
	}

	copyStmt, err := prep.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("preparing COPY: %w", err)
	}
	defer copyStmt.Close()

	for _, line := range strings.Split(strings.TrimSuffix(stmt.CopyData, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = f
		}
		if _, err := copyStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("copying row: %w", err)
		}
	}

	if _, err := copyStmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("finalizing COPY: %w", err)
	}
	return nil
}

// parseCopyTarget extracts the table and column list from a
// "COPY table(col1, col2) FROM STDIN" statement.
func parseCopyTarget(sqlText string) (string, []string, error) {
	upper := strings.ToUpper(sqlText)
	const prefix = "COPY "
	if !strings.HasPrefix(upper, prefix) {
		return "", nil, fmt.Errorf("not a COPY statement: %q", sqlText)
	}

	rest := strings.TrimSpace(sqlText[len(prefix):])
	open := strings.Index(rest, "(")
	if open < 0 {
		fromIdx := strings.Index(strings.ToUpper(rest), " FROM")
		if fromIdx < 0 {
			return "", nil, fmt.Errorf("malformed COPY statement: %q", sqlText)
		}
		return strings.TrimSpace(rest[:fromIdx]), nil, nil
	}

	table := strings.TrimSpace(rest[:open])
	close := strings.Index(rest, ")")
	if close < 0 || close < open {
		return "", nil, fmt.Errorf("malformed COPY column list: %q", sqlText)
	}
	colPart := rest[open+1 : close]
	var columns []string
	for _, c := range strings.Split(colPart, ",") {
		columns = append(columns, strings.TrimSpace(c))
	}
	return table, columns, nil
}

var _ migration.Executor = (*sqlExecutor)(nil)
