package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, v, c, d string) {
	t.Helper()
	origV, origC, origD := Version, Commit, Date
	Version, Commit, Date = v, c, d
	t.Cleanup(func() { Version, Commit, Date = origV, origC, origD })
}

func TestGetInfoUsesStampedValues(t *testing.T) {
	stamp(t, "1.4.0", "abc123def456", "2024-01-01T12:00:00Z")

	info := GetInfo()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123def456", info.Commit)
	assert.Equal(t, "2024-01-01T12:00:00Z", info.Date)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name string
		in   Info
		bi   debug.BuildInfo
		want Info
	}{
		{
			name: "unstamped build takes module version and vcs settings",
			in:   Info{Version: "dev", Commit: "unknown", Date: "unknown"},
			bi: debug.BuildInfo{
				Main: debug.Module{Version: "v0.3.1"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789ab"},
					{Key: "vcs.time", Value: "2024-05-01T00:00:00Z"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: Info{Version: "v0.3.1", Commit: "0123456789ab", Date: "2024-05-01T00:00:00Z", Modified: true},
		},
		{
			name: "stamped values win",
			in:   Info{Version: "1.0.0", Commit: "feedface", Date: "2024-01-01"},
			bi: debug.BuildInfo{
				Main:     debug.Module{Version: "v9.9.9"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "other"}},
			},
			want: Info{Version: "1.0.0", Commit: "feedface", Date: "2024-01-01"},
		},
		{
			name: "devel module version is ignored",
			in:   Info{Version: "dev", Commit: "unknown", Date: "unknown"},
			bi:   debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			want: Info{Version: "dev", Commit: "unknown", Date: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			fillFromBuildInfo(&got, &tt.bi)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.0.0",
		Commit:    "abc123def456",
		Date:      "2024-01-01",
		GoVersion: "go1.24.0",
		Platform:  "linux/amd64",
	}
	assert.Equal(t, "flagsync 1.0.0 (abc123de) built 2024-01-01 with go1.24.0 for linux/amd64", info.String())

	info.Commit = "abc"
	info.Modified = true
	assert.Contains(t, info.String(), "(abc-dirty)")
}

func TestUserAgent(t *testing.T) {
	info := Info{Version: "0.2.0", Platform: "darwin/arm64"}
	assert.Equal(t, "flagsync/0.2.0 (darwin/arm64)", info.UserAgent())
}
