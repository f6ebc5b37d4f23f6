// Package buildinfo exposes the version, commit, and build date of the regress
// binary. The values are injected with -ldflags -X at release time.
package buildinfo

var (
	// Version is the semantic version or git describe output.
	Version = "dev"

	// Commit is the short git commit SHA.
	Commit = "unknown"

	// Date is the UTC build timestamp in RFC3339 format.
	Date = "unknown"
)
