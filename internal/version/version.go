// Package version reports the build of the gateway binary.
package version

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/obot-platform/fleetgate/internal/version.Version=v1.2.0"
var (
	Version = "main"
	Commit  = ""
)

// String returns the version with the commit appended when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
