package buildinfo

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamp(t *testing.T, version, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuilt := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuilt
	})
	Version, Commit, BuildTime = version, commit, built
}

func TestGet_Stamped(t *testing.T) {
	stamp(t, "v0.3.0", "4e1c9a2", "2026-10-01T09:00:00Z")

	info := Get("minutes")
	assert.Equal(t, "minutes", info.ServiceName)
	assert.Equal(t, "v0.3.0", info.Version)
	assert.Equal(t, "4e1c9a2", info.Commit)
	assert.Equal(t, "2026-10-01T09:00:00Z", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGet_Defaults(t *testing.T) {
	info := Get("worker")
	assert.Equal(t, "dev", info.Version)
	// Test binaries carry no VCS stamp, so the placeholders survive.
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
}

func TestString(t *testing.T) {
	stamp(t, "v1.2.3", "abc123d", "2026-02-07T10:30:00Z")
	assert.Equal(t, "v1.2.3 (abc123d, 2026-02-07T10:30:00Z)", String())
}

func TestResolvedCommit_PrefersLdflags(t *testing.T) {
	stamp(t, "dev", "feedbee", "unknown")
	assert.Equal(t, "feedbee", ResolvedCommit())
}

func TestInfo_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Info{
		ServiceName: "api",
		Version:     "v1.0.0",
		Commit:      "abcd123",
		BuildTime:   "2026-01-01T00:00:00Z",
		GoVersion:   "go1.24.0",
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]any{
		"service_name": "api",
		"version":      "v1.0.0",
		"commit":       "abcd123",
		"build_time":   "2026-01-01T00:00:00Z",
		"go_version":   "go1.24.0",
	}, decoded)
}
