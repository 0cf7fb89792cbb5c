package lockfile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ortelius/lockscan/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pnpmV9Lockfile = `lockfileVersion: '9.0'

importers:
  .:
    dependencies:
      next:
        specifier: 15.2.1
        version: 15.2.1(react-dom@19.0.0(react@19.0.0))(react@19.0.0)
      shared:
        specifier: workspace:*
        version: link:packages/shared
      typescript:
        specifier: ^5.4.0
        version: 5.4.5
  packages/shared:
    dependencies:
      react:
        specifier: ^18.0.0
        version: 18.3.1

packages:
  next@15.2.1:
    resolution: {integrity: sha512-next}
  '@types/node@20.1.0':
    resolution:
      integrity: sha512-types
      tarball: https://registry.npmjs.org/@types/node/-/node-20.1.0.tgz
  react@19.0.0:
    resolution: {integrity: sha512-r19}
  react@18.3.1:
    resolution: {integrity: sha512-r18}
  styled-jsx@5.1.6(react@19.0.0):
    resolution: {integrity: sha512-sj}
`

func TestParsePnpmV9(t *testing.T) {
	pkgs, err := parsePnpmLockfile([]byte(pnpmV9Lockfile))
	require.NoError(t, err)

	want := model.ResolvedPackageMap{
		"next": {Version: "15.2.1", Integrity: "sha512-next"},
		"@types/node": {
			Version:     "20.1.0",
			Integrity:   "sha512-types",
			ResolvedURL: "https://registry.npmjs.org/@types/node/-/node-20.1.0.tgz",
		},
		// First key in document order wins; the importer's 18.3.1 does not overwrite it.
		"react":      {Version: "19.0.0", Integrity: "sha512-r19"},
		"styled-jsx": {Version: "5.1.6", Integrity: "sha512-sj"},
		// Only present in importers.
		"typescript": {Version: "5.4.5"},
	}
	if diff := cmp.Diff(want, pkgs); diff != "" {
		t.Errorf("parsePnpmLockfile() mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, pkgs, "shared")
}

func TestParsePnpmV6Keys(t *testing.T) {
	pkgs, err := parsePnpmLockfile([]byte(`lockfileVersion: '6.0'

dependencies:
  react-server-dom-webpack:
    specifier: 19.1.0
    version: 19.1.0(react-dom@19.1.0)(react@19.1.0)

packages:
  /@scope/pkg@1.2.3(react@19.1.0):
    resolution: {integrity: sha512-x}
  /next@15.3.0:
    resolution: {integrity: sha512-y}
`))
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", pkgs["@scope/pkg"].Version)
	assert.Equal(t, "15.3.0", pkgs["next"].Version)
	assert.Equal(t, "19.1.0", pkgs["react-server-dom-webpack"].Version)
}

func TestParsePnpmLegacyV5(t *testing.T) {
	pkgs, err := parsePnpmLockfile([]byte(`lockfileVersion: 5.4

specifiers:
  next: 13.0.0

dependencies:
  next: 13.0.0_react@18.2.0

packages:
  /@babel/core/7.20.0:
    resolution: {integrity: sha512-b}
  /styled-jsx/5.1.0_react@18.2.0:
    resolution: {integrity: sha512-s}
`))
	require.NoError(t, err)
	assert.Equal(t, "7.20.0", pkgs["@babel/core"].Version)
	assert.Equal(t, "5.1.0", pkgs["styled-jsx"].Version)
	assert.Equal(t, "13.0.0", pkgs["next"].Version)
}

func TestParsePnpmKey(t *testing.T) {
	tests := []struct {
		key       string
		legacy    bool
		name, ver string
		ok        bool
	}{
		{"next@15.2.1", false, "next", "15.2.1", true},
		{"/next@15.2.1", false, "next", "15.2.1", true},
		{"@scope/pkg@1.0.0(react@19.0.0)", false, "@scope/pkg", "1.0.0", true},
		{"/@scope/pkg/2.0.0", true, "@scope/pkg", "2.0.0", true},
		{"/pkg/1.0.0_peer@2.0.0", true, "pkg", "1.0.0", true},
		{"noversion", false, "", "", false},
		{"@scope/only", false, "", "", false},
	}
	for _, tt := range tests {
		name, ver, ok := parsePnpmKey(tt.key, tt.legacy)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.name, name, tt.key)
		assert.Equal(t, tt.ver, ver, tt.key)
	}
}

func TestParsePnpmDeterministic(t *testing.T) {
	first, err := parsePnpmLockfile([]byte(pnpmV9Lockfile))
	require.NoError(t, err)
	second, err := parsePnpmLockfile([]byte(pnpmV9Lockfile))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParsePnpmRejectsOtherYAML(t *testing.T) {
	_, err := parsePnpmLockfile([]byte("foo: bar\n"))
	assert.Error(t, err)
	_, err = parsePnpmLockfile([]byte("packages: [\n"))
	assert.Error(t, err)
}
