// SPDX-License-Identifier: Apache-2.0

// Package planner selects the next group of pending migrations to apply and
// determines the transactional mode the group must run under.
package planner

import (
	"fmt"

	"github.com/driftline/driftline/pkg/migration"
)

// Mode is the transactional mode a planned group will execute under.
type Mode int

const (
	ModeTransactional Mode = iota
	ModeNonTransactional
)

// PlanError reports a policy violation discovered during planning, before
// any migration in the group has executed.
type PlanError struct {
	Code    string
	Message string
}

func (e *PlanError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	CodeMixedTransactional = "MIXED_TRANSACTIONAL_ERROR"
	CodeFailedPresent      = "FAILED_MIGRATION_PRESENT"
)

// Options carries the subset of engine configuration the planner consults.
type Options struct {
	// Group selects one group spanning every pending migration instead of
	// stopping after the first.
	Group bool
	// Mixed allows a group whose members disagree on transactionality to run
	// as a single non-transactional group instead of failing.
	Mixed bool
	// SupportsDDLTransactions gates the "DDL transactions unsupported" warning.
	SupportsDDLTransactions bool
	// IgnoreFuturePattern suppresses the future() warning/failure path.
	IgnoreFuturePattern bool
}

// Plan is the result of a successful planning pass.
type Plan struct {
	Group    *migration.MigrationGroup
	Mode     Mode
	Warnings []string
}

// Plan builds the next group of pending migrations from info and validates
// it against policy, per spec.md §4.4.
func Plan(info *migration.InfoService, opts Options) (*Plan, error) {
	if failed := info.Failed(); len(failed) > 0 {
		if !(len(failed) == 1 && failed[0].State == migration.StateFutureFailed && opts.IgnoreFuturePattern) {
			first := failed[0]
			return nil, &PlanError{
				Code:    CodeFailedPresent,
				Message: fmt.Sprintf("migration %q previously failed", first.Description()),
			}
		}
	}

	var warnings []string
	if len(info.Future()) > 0 && !opts.IgnoreFuturePattern {
		warnings = append(warnings, "applied migrations exist ahead of the resolved migration set")
	}

	group := migration.NewMigrationGroup()
	for _, pending := range info.Pending() {
		isOutOfOrder := pending.State == migration.StateOutOfOrder
		group.Put(pending, isOutOfOrder)
		if !opts.Group {
			break
		}
	}

	if group.IsEmpty() {
		return &Plan{Group: group, Mode: ModeTransactional, Warnings: warnings}, nil
	}

	if opts.Group && !opts.SupportsDDLTransactions {
		warnings = append(warnings, "database does not support DDL transactions; grouping proceeds without a single enclosing transaction")
	}

	mode, err := resolveMode(group, opts.Mixed)
	if err != nil {
		return nil, err
	}

	return &Plan{Group: group, Mode: mode, Warnings: warnings}, nil
}

// resolveMode reduces each entry's resolved executor's CanExecuteInTransaction
// across the group: all-Yes-or-Inherit is transactional, all-No is
// non-transactional, and a mix fails unless mixed mode is allowed.
func resolveMode(group *migration.MigrationGroup, mixed bool) (Mode, error) {
	sawTransactional := false
	sawNonTransactional := false
	var firstNonTransactional *migration.MigrationInfo

	for _, e := range group.Entries() {
		if e.Info.Resolved == nil || e.Info.Resolved.Executor == nil {
			continue
		}
		switch e.Info.Resolved.Executor.CanExecuteInTransaction() {
		case migration.No:
			sawNonTransactional = true
			if firstNonTransactional == nil {
				firstNonTransactional = e.Info
			}
		default:
			sawTransactional = true
		}
	}

	switch {
	case sawNonTransactional && sawTransactional:
		if !mixed {
			return ModeTransactional, &PlanError{
				Code:    CodeMixedTransactional,
				Message: fmt.Sprintf("migration %q cannot run in a transaction alongside transactional migrations in the same group", firstNonTransactional.Description()),
			}
		}
		return ModeNonTransactional, nil
	case sawNonTransactional:
		return ModeNonTransactional, nil
	default:
		return ModeTransactional, nil
	}
}
