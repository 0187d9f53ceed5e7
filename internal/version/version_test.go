package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildInfo(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func noBuildInfo() (*debug.BuildInfo, bool) {
	return nil, false
}

func TestResolveReleaseBuildKeepsVersionClean(t *testing.T) {
	t.Parallel()

	info := resolve("1.2.0", "3f9c2e1a77", "2026-01-02", buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "deadbeefcafe"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))
	require.Equal(t, "1.2.0", info.String())
	require.Equal(t, "2026-01-02", info.Date)
	require.Equal(t, "3f9c2e1a77", info.Commit)
	require.True(t, info.Release)
}

func TestResolveDevelopmentBuildAppendsRevision(t *testing.T) {
	t.Parallel()

	info := resolve("1.2.0", "", "", buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "deadbeefcafe0123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "false"},
	))
	require.Equal(t, "1.2.0-deadbee", info.String())
	require.Equal(t, "2026-03-04T05:06:07Z", info.Date)
	require.False(t, info.Modified)
}

func TestResolveDirtyTree(t *testing.T) {
	t.Parallel()

	info := resolve("1.2.0", "", "", buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "abc"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))
	require.Equal(t, "1.2.0-abc-dirty", info.String())
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1.2.0", resolve("1.2.0", "", "", noBuildInfo).String())
	require.Equal(t, "0.0.0", resolve("", "", "", noBuildInfo).String())
}

func TestResolveIgnoresUnknownCommitPlaceholder(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2.0.0", Info{Version: "2.0.0", Commit: "unknown"}.String())
}
