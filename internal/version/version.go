// Package version reports build metadata stamped at link time, falling back to the
// module and VCS details the Go toolchain embeds.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

func String() string {
	version, commit, date := resolve()
	return "parley " + version + " (commit=" + commit + ", date=" + date + ", go=" + runtime.Version() + ")"
}

// resolve prefers -ldflags values and fills defaults from embedded build info.
func resolve() (version, commit, date string) {
	version, commit, date = Version, Commit, Date
	info, ok := readBuildInfo()
	if !ok {
		return version, commit, date
	}
	if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == "none" && len(setting.Value) >= 12 {
				commit = setting.Value[:12]
			}
		case "vcs.time":
			if date == "unknown" {
				date = setting.Value
			}
		}
	}
	return version, commit, date
}
