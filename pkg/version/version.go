// Package version reports the build version shared by the CLI and the
// render service. The version is derived from build metadata: an -ldflags
// override wins, then the VCS revision embedded by the Go toolchain, then
// the "dev" fallback for non-git builds.
package version

import "runtime/debug"

// AppName is the application name used in version strings and startup logs.
const AppName = "messagedb-agent"

// gitCommitOverride is set via -ldflags at build time for container builds
// where .git is unavailable. Empty string means no override.
var gitCommitOverride string

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "messagedb-agent/<commit>" for startup logs and the CLI
// version command.
func Full() string {
	return AppName + "/" + GitCommit
}
