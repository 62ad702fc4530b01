package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags.
var (
	Version   = ""
	GitCommit = ""
	BuildTime = ""
)

const devVersion = "dev"

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Dirty     bool   `json:"dirty"`
}

// Get returns the build information, preferring -ldflags values over
// embedded build info.
func Get() Info {
	return fromBuildInfo(debug.ReadBuildInfo())
}

func fromBuildInfo(bi *debug.BuildInfo, ok bool) Info {
	info := Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
	if ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	if info.Version == "" {
		info.Version = devVersion
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}
	return info
}

// Short returns "VERSION[-COMMIT][-dirty]".
func (i Info) Short() string {
	parts := []string{i.Version}
	if i.GitCommit != "" {
		parts = append(parts, i.GitCommit)
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "-")
}

// String returns the multi-line form printed by `execkit version`.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "execkit: %s\n", i.Version)
	if i.GitCommit != "" {
		fmt.Fprintf(&b, "commit:  %s\n", i.GitCommit)
	}
	if i.BuildTime != "" {
		fmt.Fprintf(&b, "built:   %s\n", i.BuildTime)
	}
	if i.GoVersion != "" {
		fmt.Fprintf(&b, "go:      %s\n", i.GoVersion)
	}
	if i.Dirty {
		b.WriteString("dirty:   true\n")
	}
	return b.String()
}

// Short returns the short form of the running build.
func Short() string {
	return Get().Short()
}
