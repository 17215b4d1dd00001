// SPDX-License-Identifier: Apache-2.0

package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/pkg/migration"
	"github.com/driftline/driftline/pkg/version"
)

func TestChecksumMatches(t *testing.T) {
	one := int32(1)
	two := int32(2)

	tests := []struct {
		Name     string
		Applied  migration.AppliedMigration
		Resolved *int32
		Want     bool
	}{
		{Name: "nil stored checksum matches anything", Applied: migration.AppliedMigration{Checksum: nil}, Resolved: &two, Want: true},
		{Name: "equal checksums match", Applied: migration.AppliedMigration{Checksum: &one}, Resolved: &one, Want: true},
		{Name: "mismatched checksums don't match", Applied: migration.AppliedMigration{Checksum: &one}, Resolved: &two, Want: false},
		{Name: "stored checksum against a missing resolved checksum", Applied: migration.AppliedMigration{Checksum: &one}, Resolved: nil, Want: false},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.Want, tt.Applied.ChecksumMatches(tt.Resolved))
		})
	}
}

func TestMigrationGroup(t *testing.T) {
	g := migration.NewMigrationGroup()
	assert.True(t, g.IsEmpty())

	info := &migration.MigrationInfo{State: migration.StatePending}
	g.Put(info, true)

	assert.False(t, g.IsEmpty())
	assert.Equal(t, 1, g.Size())
	assert.True(t, g.Entries()[0].OutOfOrder)
}

type fakeResolver struct {
	resolved []migration.ResolvedMigration
}

func (f fakeResolver) ResolveMigrations(ctx context.Context) ([]migration.ResolvedMigration, error) {
	return f.resolved, nil
}

type fakeHistory struct {
	applied []migration.AppliedMigration
}

func (f fakeHistory) AllAppliedMigrations(ctx context.Context) ([]migration.AppliedMigration, error) {
	return f.applied, nil
}

func versioned(v string, description string) migration.ResolvedMigration {
	ver := version.MustParse(v)
	return migration.ResolvedMigration{Version: &ver, Description: description, Type: migration.TypeSQL}
}

func repeatable(description string) migration.ResolvedMigration {
	return migration.ResolvedMigration{Description: description, Type: migration.TypeSQL}
}

func appliedSuccess(v string) migration.AppliedMigration {
	ver := version.MustParse(v)
	return migration.AppliedMigration{Version: &ver, Success: true}
}

func TestInfoServicePendingAndCurrent(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		versioned("1", "create table"),
		versioned("2", "add column"),
		repeatable("refresh view"),
	}}
	history := fakeHistory{applied: []migration.AppliedMigration{appliedSuccess("1")}}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, svc.Refresh(context.Background()))

	assert.Equal(t, "1", svc.CurrentVersion().String())

	pending := svc.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "add column", pending[0].Description())
	assert.Equal(t, "refresh view", pending[1].Description())
}

func TestInfoServiceOutOfOrderAndBelowBaseline(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		versioned("1", "create table"),
		versioned("2", "add column"),
	}}
	history := fakeHistory{applied: []migration.AppliedMigration{appliedSuccess("2")}}

	withoutOutOfOrder := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, withoutOutOfOrder.Refresh(context.Background()))
	pending := withoutOutOfOrder.Pending()
	assert.Empty(t, pending)

	var belowBaseline *migration.MigrationInfo
	for _, mi := range withoutOutOfOrder.Snapshot() {
		if mi.Description() == "create table" {
			belowBaseline = mi
		}
	}
	require.NotNil(t, belowBaseline)
	assert.Equal(t, migration.StateBelowBaseline, belowBaseline.State)

	withOutOfOrder := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest, OutOfOrder: true})
	require.NoError(t, withOutOfOrder.Refresh(context.Background()))
	pending = withOutOfOrder.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, migration.StateOutOfOrder, pending[0].State)
}

func TestInfoServiceAboveTarget(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		versioned("1", "create table"),
		versioned("2", "add column"),
	}}
	history := fakeHistory{}

	target, err := version.ParseTarget("1")
	require.NoError(t, err)

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: target})
	require.NoError(t, svc.Refresh(context.Background()))

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "create table", pending[0].Description())

	for _, mi := range svc.Snapshot() {
		if mi.Description() == "add column" {
			assert.Equal(t, migration.StateAboveTarget, mi.State)
		}
	}
}

func TestInfoServiceFutureMigration(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{versioned("1", "create table")}}
	history := fakeHistory{applied: []migration.AppliedMigration{appliedSuccess("1"), appliedSuccess("2")}}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, svc.Refresh(context.Background()))

	future := svc.Future()
	require.Len(t, future, 1)
	assert.Equal(t, migration.StateFutureSuccess, future[0].State)
}

func TestInfoServiceFailed(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{versioned("1", "create table")}}
	failedApplied := appliedSuccess("1")
	failedApplied.Success = false
	failedApplied.InstalledRank = 1
	history := fakeHistory{applied: []migration.AppliedMigration{failedApplied}}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, svc.Refresh(context.Background()))

	failed := svc.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, migration.StateFailed, failed[0].State)
}

func TestInfoServiceRepeatableReappliesOnChecksumChange(t *testing.T) {
	oldChecksum := int32(1)
	newChecksum := int32(2)

	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Description: "refresh view", Type: migration.TypeSQL, Checksum: &newChecksum},
	}}
	history := fakeHistory{applied: []migration.AppliedMigration{
		{Description: "refresh view", Success: true, Checksum: &oldChecksum},
	}}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, svc.Refresh(context.Background()))

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "refresh view", pending[0].Description())
}

func TestInfoServiceRepeatableStaysUpToDateWhenChecksumMatches(t *testing.T) {
	checksum := int32(1)

	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		{Description: "refresh view", Type: migration.TypeSQL, Checksum: &checksum},
	}}
	history := fakeHistory{applied: []migration.AppliedMigration{
		{Description: "refresh view", Success: true, Checksum: &checksum},
	}}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{Target: version.Latest})
	require.NoError(t, svc.Refresh(context.Background()))

	assert.Empty(t, svc.Pending())
}

func TestInfoServiceCherryPick(t *testing.T) {
	resolver := fakeResolver{resolved: []migration.ResolvedMigration{
		versioned("1", "create table"),
		versioned("2", "add column"),
	}}
	history := fakeHistory{}

	svc := migration.NewInfoService(resolver, history, migration.RefreshOptions{
		Target:     version.Latest,
		CherryPick: []string{"1"},
	})
	require.NoError(t, svc.Refresh(context.Background()))

	pending := svc.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "create table", pending[0].Description())

	for _, mi := range svc.Snapshot() {
		if mi.Description() == "add column" {
			assert.Equal(t, migration.StateIgnored, mi.State)
		}
	}
}
