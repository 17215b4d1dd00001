// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// VersionCompatibility is the result of comparing the running engine's
// version against the version that created the schema history table.
type VersionCompatibility int

const (
	VersionCompatCheckSkipped VersionCompatibility = iota
	VersionCompatNotInitialized
	VersionCompatSchemaOlder
	VersionCompatSchemaEqual
	VersionCompatSchemaNewer
)

// VersionCompatibility compares the Store's recorded binary version against
// createdByVersion, the version the caller reports as having created the
// schema history table; nothing is read from the table itself. Development
// builds ("dev"), empty versions, and versions that are not valid semver
// skip the check.
func (s *Store) VersionCompatibility(ctx context.Context, createdByVersion string) (VersionCompatibility, error) {
	if s.binaryVersion == "" || s.binaryVersion == "dev" || createdByVersion == "" || createdByVersion == "dev" {
		return VersionCompatCheckSkipped, nil
	}

	schemaVersion := ensureVPrefix(createdByVersion)
	binaryVersion := ensureVPrefix(s.binaryVersion)

	if !semver.IsValid(schemaVersion) || !semver.IsValid(binaryVersion) {
		return VersionCompatCheckSkipped, nil
	}

	schemaVersion = semver.Canonical(schemaVersion)
	binaryVersion = semver.Canonical(binaryVersion)

	switch cmp := semver.Compare(schemaVersion, binaryVersion); {
	case cmp < 0:
		return VersionCompatSchemaOlder, nil
	case cmp > 0:
		return VersionCompatSchemaNewer, nil
	default:
		return VersionCompatSchemaEqual, nil
	}
}

func ensureVPrefix(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// AssertCompatible returns an error if the schema was created by a binary
// newer than the one currently running: an older binary cannot be trusted to
// understand a schema history table written by semantics it predates.
func AssertCompatible(compat VersionCompatibility) error {
	if compat == VersionCompatSchemaNewer {
		return fmt.Errorf("schema history table was created by a newer driftline version; upgrade before migrating")
	}
	return nil
}
