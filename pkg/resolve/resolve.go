// SPDX-License-Identifier: Apache-2.0

// Package resolve discovers migration scripts on a filesystem and resolves
// them into pkg/migration.ResolvedMigration values, naming each by the
// Flyway-style "V<version>__<description>.sql" / "R__<description>.sql"
// convention.
package resolve

import (
	"context"
	"fmt"
	"hash/crc32"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/sqlparse"
	"github.com/driftline/driftline/pkg/version"
)

var (
	versionedPattern  = regexp.MustCompile(`^V([0-9._-]+)__(.+)\.sql$`)
	repeatablePattern = regexp.MustCompile(`^R__(.+)\.sql$`)
)

// Resolver implements migration.Resolver over an fs.FS of migration scripts.
type Resolver struct {
	fsys          fs.FS
	dirs          []string
	parsingHooks  sqlparse.DialectHooks
	parsingCtx    sqlparse.ParsingContext
	placeholders  map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithServerVersion(major int) Option {
	return func(r *Resolver) { r.parsingCtx.ServerVersion = &major }
}

func WithPlaceholders(p map[string]string) Option {
	return func(r *Resolver) {
		r.placeholders = p
		r.parsingCtx.Placeholders = p
	}
}

// New creates a Resolver that reads *.sql files from dirs within fsys,
// classifying statements with hooks (PostgresHooks in production).
func New(fsys fs.FS, dirs []string, hooks sqlparse.DialectHooks, opts ...Option) *Resolver {
	r := &Resolver{fsys: fsys, dirs: dirs, parsingHooks: hooks}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveMigrations implements migration.Resolver: it walks every configured
// directory (non-recursively, matching Flyway's default locations model),
// parses each *.sql file's name into a version or repeatable identity, reads
// and checksums its content, and wires an Executor that lazily parses the
// script's statements and reports transactionality per statement.
func (r *Resolver) ResolveMigrations(ctx context.Context) ([]migration.ResolvedMigration, error) {
	var out []migration.ResolvedMigration

	for _, dir := range r.dirs {
		entries, err := fs.ReadDir(r.fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("reading migration directory %q: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
				continue
			}

			rm, err := r.resolveFile(dir, entry.Name())
			if err != nil {
				return nil, err
			}
			if rm == nil {
				continue
			}
			out = append(out, *rm)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Version != nil && b.Version != nil {
			return a.Version.Less(*b.Version)
		}
		if a.Version != nil {
			return true
		}
		if b.Version != nil {
			return false
		}
		return a.Description < b.Description
	})

	return out, nil
}

func (r *Resolver) resolveFile(dir, name string) (*migration.ResolvedMigration, error) {
	content, err := fs.ReadFile(r.fsys, dir+"/"+name)
	if err != nil {
		return nil, fmt.Errorf("reading migration file %q: %w", name, err)
	}
	script := string(content)

	if err := validateSyntax(script); err != nil {
		return nil, fmt.Errorf("parsing migration file %q: %w", name, err)
	}

	checksum := int32(crc32.ChecksumIEEE(content))

	switch {
	case versionedPattern.MatchString(name):
		m := versionedPattern.FindStringSubmatch(name)
		v, err := version.Parse(strings.ReplaceAll(m[1], "_", "."))
		if err != nil {
			return nil, fmt.Errorf("parsing version from migration file %q: %w", name, err)
		}
		description := humanizeDescription(m[2])
		return &migration.ResolvedMigration{
			Version:     &v,
			Description: description,
			Type:        migration.TypeSQL,
			Script:      name,
			Checksum:    &checksum,
			Executor:    r.newExecutor(script),
		}, nil

	case repeatablePattern.MatchString(name):
		m := repeatablePattern.FindStringSubmatch(name)
		description := humanizeDescription(m[1])
		return &migration.ResolvedMigration{
			Version:     nil,
			Description: description,
			Type:        migration.TypeSQL,
			Script:      name,
			Checksum:    &checksum,
			Executor:    r.newExecutor(script),
		}, nil

	default:
		// Doesn't match the naming convention: not a migration file.
		return nil, nil
	}
}

// validateSyntax rejects a migration script that doesn't parse as valid
// Postgres SQL, so a typo surfaces at resolve time with a file name and
// position instead of as an opaque failure mid-run. Scripts using `COPY ...
// FROM STDIN` embed a psql-only inline data block pkg/sqlparse tokenizes but
// that isn't part of the SQL grammar itself, so those are left for execution
// to catch.
func validateSyntax(script string) error {
	if strings.Contains(strings.ToUpper(script), "FROM STDIN") {
		return nil
	}
	if _, err := pg_query.Parse(script); err != nil {
		return err
	}
	return nil
}

func humanizeDescription(raw string) string {
	return strings.ReplaceAll(raw, "_", " ")
}
