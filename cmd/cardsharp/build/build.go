package build

// Populated at build time with ldflags.
var (
	Version = "development"
	Commit  = "uncommitted"
	Time    = "unknown"
)
