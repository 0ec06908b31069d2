// Package build holds version information set at link time, e.g.
// -ldflags "-X github.com/G-Research/eventbench/internal/common/build.ReleaseVersion=1.2.0".
package build

import "runtime"

var (
	ReleaseVersion = "UNKNOWN"
	GitCommit      = "UNKNOWN"
	BuildTime      = "UNKNOWN"
	GoVersion      = runtime.Version()
)
