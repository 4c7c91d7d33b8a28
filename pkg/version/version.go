// Package version carries build metadata injected via -ldflags.
package version

import "fmt"

// Build and Commit are set with -ldflags "-X contract-mesh/pkg/version.Build=...".
var (
	Build  = "dev"
	Commit = ""
)

// String is the version line printed by the CLIs.
func String() string {
	if Commit == "" {
		return Build
	}
	return fmt.Sprintf("%s (%s)", Build, Commit)
}
