package version

import (
	"runtime/debug"
	"strings"
)

// Set at link time:
// go build -ldflags "-X github.com/mohsenil85/imbolc-workspace-sub002/version.Version=$(git describe --dirty)"
var Version string

// Revision is the short VCS revision the binary was built from, with a
// "-dirty" suffix for modified trees, or "" when unknown.
var Revision = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev != "" && settings["vcs.modified"] == "true" {
		rev += "-dirty"
	}
	return rev
}()

// String returns Version, falling back to Revision, then "devel".
func String() string {
	for _, v := range []string{Version, Revision} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "devel"
}
