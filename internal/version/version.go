// Package version reports the groundstation build version.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/groundstation"

// buildVersion is set via -ldflags "-X pkt.systems/groundstation/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running build.
type Info struct {
	Version  string
	Module   string
	Revision string
	Modified bool
	Go       string
}

// String renders the info on one line.
func (i Info) String() string {
	out := i.Module + " " + i.Version
	if i.Revision != "" {
		out += " (" + i.Revision
		if i.Modified {
			out += ", modified"
		}
		out += ")"
	}
	return fmt.Sprintf("%s %s", out, i.Go)
}

// Current returns the best available version string without the dirty suffix.
func Current() string {
	return Read().Version
}

// Read collects build information from the binary.
func Read() Info {
	info := Info{Module: defaultModule, Go: runtime.Version()}
	build, ok := debug.ReadBuildInfo()
	if ok {
		if path := strings.TrimSpace(build.Main.Path); path != "" {
			info.Module = path
		}
		vcs := readVCS(build)
		info.Revision = vcs.revision
		info.Modified = vcs.modified
	}
	info.Version = resolve(build, ok)
	return info
}

func resolve(build *debug.BuildInfo, ok bool) string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return strings.TrimSuffix(v, "+dirty")
	}
	if ok {
		if v := strings.TrimSpace(build.Main.Version); v != "" && v != "(devel)" {
			return strings.TrimSuffix(v, "+dirty")
		}
		if v := pseudoVersion(build); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS(build *debug.BuildInfo) vcsInfo {
	var out vcsInfo
	if build == nil {
		return out
	}
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			out.time = setting.Value
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	if len(out.revision) > 12 {
		out.revision = out.revision[:12]
	}
	return out
}

// pseudoVersion derives a Go-style pseudo version from VCS stamps.
func pseudoVersion(build *debug.BuildInfo) string {
	vcs := readVCS(build)
	if vcs.revision == "" || vcs.time == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcs.time)
	if err != nil {
		return ""
	}
	return "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + vcs.revision
}
