package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo, ok bool) {
	t.Helper()
	original := readBuildInfo
	t.Cleanup(func() { readBuildInfo = original })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, ok }
}

func stubLinkerVars(t *testing.T, version, commit, date string) {
	t.Helper()
	originalVersion, originalCommit, originalDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = originalVersion, originalCommit, originalDate
	})
	Version, Commit, Date = version, commit, date
}

func TestStringIncludesBuildMetadata(t *testing.T) {
	stubLinkerVars(t, "1.2.3", "abc123", "2026-02-18")
	stubBuildInfo(t, nil, false)

	got := String()
	require.Contains(t, got, "parley 1.2.3")
	require.Contains(t, got, "commit=abc123")
	require.Contains(t, got, "date=2026-02-18")
	require.Contains(t, got, "go=")
}

func TestStringFallsBackToEmbeddedBuildInfo(t *testing.T) {
	stubLinkerVars(t, "dev", "none", "unknown")
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		},
	}, true)

	got := String()
	require.Contains(t, got, "parley v0.4.0")
	require.Contains(t, got, "commit=0123456789ab")
	require.Contains(t, got, "date=2026-10-01T12:00:00Z")
}

func TestLinkerValuesWinOverBuildInfo(t *testing.T) {
	stubLinkerVars(t, "1.0.0", "feedbee", "2026-01-01")
	stubBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
	}, true)

	version, commit, date := resolve()
	require.Equal(t, "1.0.0", version)
	require.Equal(t, "feedbee", commit)
	require.Equal(t, "2026-01-01", date)
}
