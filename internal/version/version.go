package version

import (
	"runtime/debug"
	"strings"
)

// Set at release time with -ldflags "-X ...".
var (
	Version = "0.1.0"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
	// Release is set when the linker injected the commit.
	Release bool
}

// Get describes the running binary. Release builds carry Commit from the
// linker; development builds fall back to the VCS stamp the go tool embeds.
func Get() Info {
	return resolve(Version, Commit, Date, debug.ReadBuildInfo)
}

// Resolve returns the version string shown to users. Development builds get
// a short revision suffix, plus "-dirty" for uncommitted changes.
func Resolve() string {
	return Get().String()
}

func (i Info) String() string {
	if i.Release || i.Commit == "" || i.Commit == "unknown" {
		return i.Version
	}
	s := i.Version + "-" + shortRevision(i.Commit)
	if i.Modified {
		s += "-dirty"
	}
	return s
}

func resolve(base, commit, date string, readBuildInfo func() (*debug.BuildInfo, bool)) Info {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" {
		return Info{Version: base, Commit: commit, Date: date, Release: true}
	}

	info := Info{Version: base, Date: date}
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return info
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = setting.Value
		case "vcs.time":
			if info.Date == "" {
				info.Date = setting.Value
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
