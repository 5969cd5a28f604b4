// Package version holds build-time metadata populated via -ldflags.
package version

import "strings"

var (
	// Program is the binary name, used as the CLI app name and to derive
	// env var prefixes.
	Program = "edge-proxy"

	// Version is set via -ldflags "-X .../version.Version=...".
	Version = "dev"

	// GitCommit is set via -ldflags "-X .../version.GitCommit=...".
	GitCommit = "HEAD"
)

// ProgramUpper is the upper-cased, dash-to-underscore form of Program, used
// as the prefix for environment variables (e.g. EDGE_PROXY_DEBUG).
func ProgramUpper() string {
	return strings.ToUpper(strings.ReplaceAll(Program, "-", "_"))
}
