// Package buildinfo carries version metadata stamped in at link time:
//
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Version=v1.2.3'
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/flowbot/core/buildinfo.Date=2025-08-30T12:00:00Z'
package buildinfo

var (
	Version = "dev"
	Commit  = "local"
	// Date is RFC3339; empty for local builds.
	Date = ""
)

// Info is a serializable copy of the build variables.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date,omitempty"`
}

// Get returns the current build variables.
func Get() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

// String renders the build as "version (commit)".
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ")"
}
