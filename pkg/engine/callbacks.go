// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/driftline/driftline/pkg/migration"

// Callbacks receives lifecycle events in the order fixed by spec.md §6:
// BeforeMigrate; per iteration BeforeEachMigrate / AfterEachMigrate[Error];
// at the first repeatable, AfterVersioned then BeforeRepeatables; at
// completion AfterMigrateApplied (if anything executed), AfterMigrateError
// (if the run failed), and always AfterMigrate.
type Callbacks interface {
	BeforeMigrate()
	BeforeEachMigrate(info *migration.MigrationInfo)
	AfterEachMigrate(info *migration.MigrationInfo)
	AfterEachMigrateError(info *migration.MigrationInfo, err error)
	AfterVersioned()
	BeforeRepeatables()
	AfterMigrateApplied(count int)
	AfterMigrateError(err error)
	AfterMigrate()
}

type noopCallbacks struct{}

// NoopCallbacks implements Callbacks with no-ops, the default when the
// caller doesn't need lifecycle hooks.
func NoopCallbacks() Callbacks { return noopCallbacks{} }

func (noopCallbacks) BeforeMigrate()                                          {}
func (noopCallbacks) BeforeEachMigrate(info *migration.MigrationInfo)         {}
func (noopCallbacks) AfterEachMigrate(info *migration.MigrationInfo)          {}
func (noopCallbacks) AfterEachMigrateError(info *migration.MigrationInfo, err error) {}
func (noopCallbacks) AfterVersioned()                                         {}
func (noopCallbacks) BeforeRepeatables()                                      {}
func (noopCallbacks) AfterMigrateApplied(count int)                          {}
func (noopCallbacks) AfterMigrateError(err error)                            {}
func (noopCallbacks) AfterMigrate()                                          {}
