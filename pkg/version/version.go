// Package version records build-time version metadata, injected via ldflags.
package version

var (
	// Version is the release version of the binary.
	Version = "dev"

	// Commit is the Git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)
