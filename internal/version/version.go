package version

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X ratiowatch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("ratiowatch %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
