// Package version exposes the agent version derived from build
// metadata. Priority: -ldflags override > VCS info from
// debug.BuildInfo > "dev" fallback.
package version

import "runtime/debug"

// AppName is used in version strings and the CLI banner.
const AppName = "warden"

// gitCommitOverride is set via -ldflags for builds without .git.
var gitCommitOverride string

// GitCommit is the short git commit hash from build info, or "dev"
// when build info is unavailable.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// Full returns "warden/<commit>" for logging and user-facing output.
func Full() string {
	return AppName + "/" + GitCommit
}
