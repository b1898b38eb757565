// Package version holds the build version of tabletsync.
package version

import "fmt"

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// Commit is the git commit that the binary was built from.
var Commit = EmptyValue

// String returns the version in the format shown by `tabletsync version`.
func String() string {
	if Commit == EmptyValue {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
