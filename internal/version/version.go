// Package version carries build metadata injected via -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String formats the build info for -version output.
func String() string {
	out := Version
	if Commit != "" {
		out = fmt.Sprintf("%s (%s)", out, Commit)
	}
	if Date != "" {
		out += " built " + Date
	}
	return out
}
