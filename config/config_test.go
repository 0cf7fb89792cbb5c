package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/walker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("MS_PORT", "8080")
	t.Setenv("ARANGO_HOST", "arango")

	v := New()
	require.NoError(t, Load(v, "", ""))
	cfg := FromViper(v)

	assert.Equal(t, rules.PrimaryRuleID, cfg.CVE)
	assert.Equal(t, walker.DefaultMaxDepth, cfg.MaxDepth)
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://arango:8529", cfg.Arango.URL)
	assert.Equal(t, "root", cfg.Arango.User)
	assert.False(t, cfg.Arango.Enabled)
	assert.Empty(t, cfg.Ignore)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CVESCAN_SCAN_WORKERS", "3")
	t.Setenv("CVESCAN_SCAN_IGNORE", "fixtures, legacy/**")
	t.Setenv("CVESCAN_ARANGO_ENABLED", "true")
	t.Setenv("CVESCAN_RULES_CVE", "CVE-2099-0001")

	cfg := FromViper(New())
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"fixtures", "legacy/**"}, cfg.Ignore)
	assert.True(t, cfg.Arango.Enabled)
	assert.Equal(t, "CVE-2099-0001", cfg.CVE)
}

func TestConfigFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "lockscan.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
rules:
  dir: /etc/lockscan/rules
scan:
  ignore:
    - examples
  max_depth: 4
server:
  port: "9000"
`), 0o644))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CVESCAN_LOG_VERBOSE=true\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CVESCAN_LOG_VERBOSE") })

	v := New()
	require.NoError(t, Load(v, cfgFile, envFile))
	cfg := FromViper(v)

	assert.Equal(t, "/etc/lockscan/rules", cfg.RulesDir)
	assert.Equal(t, []string{"examples"}, cfg.Ignore)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Verbose)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Load(New(), filepath.Join(dir, "missing.yaml"), ""))
	assert.Error(t, Load(New(), "", filepath.Join(dir, "missing.env")))
}
