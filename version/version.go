// Package version holds build metadata injected at link time via
// -ldflags.
package version

var (
	// GitRelease is the release tag or branch the binary was built from.
	GitRelease = "dev"

	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"

	// GitCommitDate is the commit date of GitCommit.
	GitCommitDate = "unknown"

	// GoInfo is the Go toolchain version used for the build.
	GoInfo = "unknown"
)
