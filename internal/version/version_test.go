package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBuild overrides the ldflags variables for the duration of a test.
func withBuild(t *testing.T, version, commit, date, branch, tree string) {
	t.Helper()
	saved := [...]string{Version, Commit, Date, Branch, TreeState}
	t.Cleanup(func() {
		Version, Commit, Date, Branch, TreeState = saved[0], saved[1], saved[2], saved[3], saved[4]
	})
	Version, Commit, Date, Branch, TreeState = version, commit, date, branch, tree
}

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		commit   string
		branch   string
		tree     string
		contains []string
		absent   []string
	}{
		{
			name:     "dev build",
			commit:   "unknown",
			contains: []string{"lidarcap version 0.4.0 (", runtime.GOOS + "/" + runtime.GOARCH},
			absent:   []string{"commit:"},
		},
		{
			name:     "release with branch",
			commit:   "0123456789abcdef",
			branch:   "main",
			tree:     "clean",
			contains: []string{"commit: 01234567,", "branch: main", "built: 2026-03-01T00:00:00Z"},
		},
		{
			name:     "dirty tree",
			commit:   "0123456789abcdef",
			tree:     "dirty",
			contains: []string{"commit: 01234567*,"},
			absent:   []string{"branch:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, "0.4.0", tt.commit, "2026-03-01T00:00:00Z", tt.branch, tt.tree)
			s := String()
			for _, want := range tt.contains {
				assert.Contains(t, s, want)
			}
			for _, not := range tt.absent {
				assert.NotContains(t, s, not)
			}
		})
	}
}

func TestShort(t *testing.T) {
	withBuild(t, "0.4.0", "unknown", "", "", "")
	assert.Equal(t, "0.4.0", Short())

	withBuild(t, "0.4.0", "0123456789abcdef", "", "", "dirty")
	assert.Equal(t, "0.4.0 (01234567*)", Short())
}

func TestJSON(t *testing.T) {
	withBuild(t, "0.4.0", "0123456789abcdef", "2026-03-01T00:00:00Z", "capture-rework", "dirty")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))

	assert.Equal(t, Info{
		Version:   "0.4.0",
		Commit:    "0123456789abcdef",
		CommitSHA: "01234567",
		Date:      "2026-03-01T00:00:00Z",
		Branch:    "capture-rework",
		TreeState: "dirty",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}, info)
}

func TestGetInfo_ShortCommitNeedsEightChars(t *testing.T) {
	withBuild(t, "dev", "abc", "unknown", "", "")
	assert.Empty(t, GetInfo().CommitSHA)
}
