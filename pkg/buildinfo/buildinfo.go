// Package buildinfo reports the engine version stamped into binaries and
// recorded in minutes provenance.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set at build time:
//
//	-X github.com/otherjamesbrown/minutes/pkg/buildinfo.Version=v0.3.0
//	-X github.com/otherjamesbrown/minutes/pkg/buildinfo.Commit=4e1c9a2
//	-X github.com/otherjamesbrown/minutes/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the /version payload.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
	Modified    bool   `json:"modified,omitempty"`
}

var (
	vcsOnce     sync.Once
	vcsRevision string
	vcsTime     string
	vcsModified bool
)

// readVCS falls back to the toolchain's VCS stamp when ldflags were not set.
func readVCS() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRevision = s.Value
			if len(vcsRevision) > 7 {
				vcsRevision = vcsRevision[:7]
			}
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.modified":
			vcsModified = s.Value == "true"
		}
	}
}

// ResolvedCommit is Commit, or the VCS revision when Commit is unset.
func ResolvedCommit() string {
	if Commit != "unknown" && Commit != "" {
		return Commit
	}
	vcsOnce.Do(readVCS)
	if vcsRevision != "" {
		return vcsRevision
	}
	return Commit
}

func resolvedBuildTime() string {
	if BuildTime != "unknown" && BuildTime != "" {
		return BuildTime
	}
	vcsOnce.Do(readVCS)
	if vcsTime != "" {
		return vcsTime
	}
	return BuildTime
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	vcsOnce.Do(readVCS)
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      ResolvedCommit(),
		BuildTime:   resolvedBuildTime(),
		GoVersion:   runtime.Version(),
		Modified:    vcsModified,
	}
}

// String returns e.g. "v0.3.0 (4e1c9a2, 2026-10-01T09:00:00Z)".
func String() string {
	return Version + " (" + ResolvedCommit() + ", " + resolvedBuildTime() + ")"
}

// Handler serves Get(serviceName) as JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(Get(serviceName))
	}
}
