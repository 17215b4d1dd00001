// SPDX-License-Identifier: Apache-2.0

package engine

import "github.com/pterm/pterm"

// Logger is responsible for logging every migration lifecycle step.
type Logger interface {
	LogMigrateStart(runID string)
	LogMigrateComplete(executed int)
	LogGroupPlanned(size int, mode string)
	LogMigrationStart(description string)
	LogMigrationComplete(description string)
	LogMigrationFailed(description string, err error)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

func NewLogger() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

type noopLogger struct{}

func NewNoopLogger() Logger { return noopLogger{} }

func (l *ptermLogger) LogMigrateStart(runID string) {
	l.logger.Info("starting migration run", l.logger.Args("run_id", runID))
}

func (l *ptermLogger) LogMigrateComplete(executed int) {
	l.logger.Info("migration run complete", l.logger.Args("executed", executed))
}

func (l *ptermLogger) LogGroupPlanned(size int, mode string) {
	l.logger.Info("planned migration group", l.logger.Args("size", size, "mode", mode))
}

func (l *ptermLogger) LogMigrationStart(description string) {
	l.logger.Info("starting migration", l.logger.Args("description", description))
}

func (l *ptermLogger) LogMigrationComplete(description string) {
	l.logger.Info("successfully completed migration", l.logger.Args("description", description))
}

func (l *ptermLogger) LogMigrationFailed(description string, err error) {
	l.logger.Error("migration failed", l.logger.Args("description", description, "error", err))
}

func (l *ptermLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.logger.Args(args))
}

func (l *ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args))
}

func (noopLogger) LogMigrateStart(runID string)                  {}
func (noopLogger) LogMigrateComplete(executed int)               {}
func (noopLogger) LogGroupPlanned(size int, mode string)         {}
func (noopLogger) LogMigrationStart(description string)          {}
func (noopLogger) LogMigrationComplete(description string)       {}
func (noopLogger) LogMigrationFailed(description string, err error) {}
func (noopLogger) Warn(msg string, args ...any)                  {}
func (noopLogger) Info(msg string, args ...any)                  {}
