// Package appversion provides build version information for scoutd and
// scoutctl, injected via ldflags, plus the compiled-rule wire format version
// the two binaries and the loader must agree on.
//
// Version, GitCommit and BuildDate are set at build time:
//
//	-ldflags="-X github.com/k9dev/scout-agent/internal/version.Version=v1.0.0
//	          -X github.com/k9dev/scout-agent/internal/version.GitCommit=abc1234
//	          -X github.com/k9dev/scout-agent/internal/version.BuildDate=2026-02-22T12:00:00Z"
package appversion

import "fmt"

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// RulesFormatVersion identifies the layout of rules.CompiledRule written to
// shared memory. Bump it whenever CompiledRuleSize or a field's offset
// changes, so a stale loader binary and a rebuilt scoutd can be told apart
// from their logs rather than from a silent shm corruption.
const RulesFormatVersion = 1

// Full returns a human-readable multi-line version string, including the
// compiled-rule format version operators need when comparing a scoutd build
// against the loader it is paired with.
func Full(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:        %s\n  built:         %s\n  rules format:  v%d",
		binary, Version, GitCommit, BuildDate, RulesFormatVersion)
}
