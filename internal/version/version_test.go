package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pin(t *testing.T, v, c, d string) {
	t.Helper()
	ov, oc, od := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = ov, oc, od })
	Version, Commit, Date = v, c, d
}

func TestInfo(t *testing.T) {
	pin(t, "1.2.3", "abc1234567890", "2026-01-15")

	info := Info()
	assert.Equal(t, "coursemate 1.2.3 (commit: abc1234, built: 2026-01-15, "+runtime.GOOS+"/"+runtime.GOARCH+")", info)
	assert.Equal(t, "coursemate/1.2.3 (abc1234)", UserAgent())
}

func TestFillFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeefcafe"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		},
	}

	t.Run("unset values are filled", func(t *testing.T) {
		pin(t, "dev", "unknown", "unknown")
		fillFromBuildInfo(info)
		assert.Equal(t, "v0.4.0", Version)
		assert.Equal(t, "deadbeefcafe", Commit)
		assert.Equal(t, "2026-03-01T10:00:00Z", Date)
	})

	t.Run("ldflags win", func(t *testing.T) {
		pin(t, "1.0.0", "feed", "today")
		fillFromBuildInfo(info)
		assert.Equal(t, "1.0.0", Version)
		assert.Equal(t, "feed", Commit)
		assert.Equal(t, "today", Date)
	})

	t.Run("devel main module", func(t *testing.T) {
		pin(t, "dev", "unknown", "unknown")
		fillFromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
		assert.Equal(t, "dev", Version)
	})
}

func TestShort(t *testing.T) {
	for in, want := range map[string]string{
		"abcdefghij": "abcdefg",
		"abc1234":    "abc1234",
		"":           "",
	} {
		assert.Equal(t, want, short(in), in)
	}
}
