package artifact

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is stamped on every artifact written by this build.
const CurrentSchemaVersion = "1.0.0"

// schemaConstraint accepts any payload of the same major version.
var schemaConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint("^" + CurrentSchemaVersion)
	if err != nil {
		panic(err)
	}
	return c
}()

// CheckVersion verifies a payload's schema version is readable by this
// build. Minor and patch drift is fine; a major mismatch is not.
func CheckVersion(got string) error {
	if got == "" {
		return fmt.Errorf("artifact schema version missing")
	}
	v, err := semver.NewVersion(got)
	if err != nil {
		return fmt.Errorf("invalid artifact schema version %q: %w", got, err)
	}
	if !schemaConstraint.Check(v) {
		return fmt.Errorf("artifact schema version %s is not compatible with %s", got, CurrentSchemaVersion)
	}
	return nil
}
