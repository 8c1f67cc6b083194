// Package version holds build metadata injected with -ldflags "-X".
package version

import "fmt"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns "<version> (<commit>) built at <time>".
func Info() string {
	return fmt.Sprintf("%s (%s) built at %s", Version, GitCommit, BuildTime)
}

// Banner is the first line a binary prints on start.
func Banner(name string) string {
	return name + " " + Info()
}
