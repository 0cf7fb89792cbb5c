package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("LOCKSCAN_TEST_VAR", "set")
	assert.Equal(t, "set", GetEnvDefault("LOCKSCAN_TEST_VAR", "default"))
	assert.Equal(t, "default", GetEnvDefault("LOCKSCAN_TEST_VAR_MISSING", "default"))
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.Equal(t, file, FindFile([]string{filepath.Join(dir, "missing"), file}))
	assert.Empty(t, FindFile([]string{filepath.Join(dir, "missing")}))
}

func TestPURLPackageName(t *testing.T) {
	tests := []struct {
		purl string
		want string
	}{
		{"pkg:npm/lodash@4.17.21", "lodash"},
		{"pkg:npm/%40babel/core@7.24.0", "@babel/core"},
		{"pkg:npm/types/node@20.0.0", "@types/node"},
		{"pkg:maven/org.apache/commons@1.0", "org.apache/commons"},
	}

	for _, tt := range tests {
		t.Run(tt.purl, func(t *testing.T) {
			p, err := ParsePURL(tt.purl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, PURLPackageName(p))
		})
	}
}

func TestParsePURLInvalid(t *testing.T) {
	_, err := ParsePURL("not-a-purl")
	assert.Error(t, err)
}

func TestNpmPURLRoundTrip(t *testing.T) {
	purl := NpmPURL("@scope/pkg", "1.2.3")
	p, err := ParsePURL(purl)
	require.NoError(t, err)
	assert.Equal(t, "@scope/pkg", PURLPackageName(p))
	assert.Equal(t, "1.2.3", p.Version)

	base, err := GetBasePURL(purl)
	require.NoError(t, err)
	assert.NotContains(t, base, "1.2.3")
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty("  "))
	assert.False(t, IsEmpty("x"))
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains(nil, "a"))
}
