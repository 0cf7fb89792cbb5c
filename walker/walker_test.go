package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkProject(t *testing.T, root, rel string) string {
	t.Helper()
	dir := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644))
	return dir
}

func TestFindProjectsSkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	mkProject(t, root, ".")
	web := mkProject(t, root, "apps/web")
	mkProject(t, root, "apps/web/node_modules/next")
	mkProject(t, root, ".hidden/tool")
	mkProject(t, root, "dist/bundle")
	mkProject(t, root, "fixtures/legacy")
	mkProject(t, root, "examples/a/deep")

	projects, err := FindProjects(root, Options{Ignore: []string{"fixtures", "examples/**"}})
	require.NoError(t, err)
	assert.Equal(t, []string{root, web}, projects)
}

func TestWalkRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	mkProject(t, root, "a")
	mkProject(t, root, "a/b")
	mkProject(t, root, "a/b/c")

	projects, err := FindProjects(root, Options{MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a"), filepath.Join(root, "a", "b")}, projects)

	var maxSeen int
	require.NoError(t, Walk(root, Options{}, func(_ string, depth int) error {
		if depth > maxSeen {
			maxSeen = depth
		}
		return nil
	}))
	assert.Equal(t, 3, maxSeen)
}

func TestWalkDoesNotFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	mkProject(t, root, "pkg")
	// A cycle back to the root would loop forever if links were followed.
	if err := os.Symlink(root, filepath.Join(root, "pkg", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	projects, err := FindProjects(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "pkg")}, projects)
}

func TestWalkErrors(t *testing.T) {
	root := t.TempDir()
	assert.Error(t, Walk(filepath.Join(root, "missing"), Options{}, func(string, int) error { return nil }))

	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, Walk(file, Options{}, func(string, int) error { return nil }))
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		rel    string
		ignore []string
		want   bool
	}{
		{"node_modules", nil, true},
		{"packages/app/.turbo", nil, true},
		{"packages/app", nil, false},
		{"packages/app", []string{"packages/*"}, true},
		{"legacy/app", []string{"app"}, true},
		{"legacy", []string{"./legacy/"}, true},
		{"legacy/app", []string{"other/**"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldSkip(tt.rel, filepath.Base(tt.rel), tt.ignore), tt.rel)
	}
}

func TestIsIgnored(t *testing.T) {
	assert.False(t, IsIgnored(".", []string{"apps"}))
	assert.False(t, IsIgnored("apps/web", nil))
	assert.True(t, IsIgnored("apps/web", []string{"apps"}))
	assert.True(t, IsIgnored("apps/web", []string{"apps/w*"}))
	assert.True(t, IsIgnored("tools/.cache/x", nil))
}
