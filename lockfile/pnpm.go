package lockfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const pnpmLockfileName = "pnpm-lock.yaml"

// PnpmParser reads pnpm-lock.yaml.
//
// The top-level "packages" map is authoritative; within it the first key for a given name
// wins, in document order. The "dependencies", "devDependencies", "optionalDependencies"
// and "importers" sections only fill names that "packages" did not provide.
type PnpmParser struct {
	logger *zap.Logger
}

// NewPnpmParser creates a PnpmParser logging diagnostics to logger.
func NewPnpmParser(logger *zap.Logger) *PnpmParser {
	return &PnpmParser{logger: util.OrNop(logger)}
}

// Format implements Parser.
func (p *PnpmParser) Format() Format { return FormatPnpm }

// Parse implements Parser.
func (p *PnpmParser) Parse(dir string) Result {
	path := filepath.Join(dir, pnpmLockfileName)
	if !util.FileExists(path) {
		return NotPresent()
	}
	pkgs, err := p.ParseFile(path)
	if err != nil {
		logSkipped(p.logger, FormatPnpm, path, err)
		return NotPresent()
	}
	return Found(FormatPnpm, path, pkgs)
}

// ParseFile parses a single pnpm lockfile.
func (p *PnpmParser) ParseFile(path string) (model.ResolvedPackageMap, error) {
	data, err := readLockfile(path)
	if err != nil {
		return nil, err
	}
	return parsePnpmLockfile(data)
}

type pnpmLockfile struct {
	LockfileVersion      interface{}               `yaml:"lockfileVersion"`
	Packages             yaml.MapSlice             `yaml:"packages"`
	Dependencies         map[string]pnpmDependency `yaml:"dependencies"`
	DevDependencies      map[string]pnpmDependency `yaml:"devDependencies"`
	OptionalDependencies map[string]pnpmDependency `yaml:"optionalDependencies"`
	Importers            map[string]pnpmImporter   `yaml:"importers"`
}

type pnpmImporter struct {
	Dependencies         map[string]pnpmDependency `yaml:"dependencies"`
	DevDependencies      map[string]pnpmDependency `yaml:"devDependencies"`
	OptionalDependencies map[string]pnpmDependency `yaml:"optionalDependencies"`
}

// pnpmDependency is either a bare version string (lockfile v5) or a
// {specifier, version} mapping (v6 and later).
type pnpmDependency struct {
	Specifier string
	Version   string
}

// UnmarshalYAML accepts both dependency forms.
func (d *pnpmDependency) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var version string
	if err := unmarshal(&version); err == nil {
		d.Version = version
		return nil
	}

	var full struct {
		Specifier string `yaml:"specifier"`
		Version   string `yaml:"version"`
	}
	if err := unmarshal(&full); err != nil {
		return err
	}
	d.Specifier = full.Specifier
	d.Version = full.Version
	return nil
}

func parsePnpmLockfile(data []byte) (model.ResolvedPackageMap, error) {
	var lock pnpmLockfile
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if lock.LockfileVersion == nil && lock.Packages == nil && lock.Importers == nil && lock.Dependencies == nil {
		return nil, errors.New("not a pnpm lockfile")
	}

	legacy := pnpmLegacyFormat(lock.LockfileVersion)
	pkgs := model.ResolvedPackageMap{}

	for _, item := range lock.Packages {
		key, ok := item.Key.(string)
		if !ok {
			continue
		}
		name, version, ok := parsePnpmKey(key, legacy)
		if !ok {
			continue
		}
		pkg := model.ResolvedPackage{Version: version}
		resolution := yamlLookup(item.Value, "resolution")
		pkg.Integrity, _ = yamlLookup(resolution, "integrity").(string)
		pkg.ResolvedURL, _ = yamlLookup(resolution, "tarball").(string)
		pkgs.SetIfAbsent(name, pkg)
	}

	addPnpmSpecifiers(pkgs, lock.Dependencies, legacy)
	addPnpmSpecifiers(pkgs, lock.DevDependencies, legacy)
	addPnpmSpecifiers(pkgs, lock.OptionalDependencies, legacy)

	for _, importer := range sortedImporterKeys(lock.Importers) {
		imp := lock.Importers[importer]
		addPnpmSpecifiers(pkgs, imp.Dependencies, legacy)
		addPnpmSpecifiers(pkgs, imp.DevDependencies, legacy)
		addPnpmSpecifiers(pkgs, imp.OptionalDependencies, legacy)
	}

	return pkgs, nil
}

// yamlLookup reads key from a decoded YAML mapping. Mappings nested under a yaml.MapSlice
// decode as MapSlice themselves, so both shapes are handled.
func yamlLookup(node interface{}, key string) interface{} {
	switch m := node.(type) {
	case yaml.MapSlice:
		for _, item := range m {
			if k, ok := item.Key.(string); ok && k == key {
				return item.Value
			}
		}
	case map[interface{}]interface{}:
		return m[key]
	}
	return nil
}

// pnpmLegacyFormat reports whether the lockfile predates v6, where package keys are
// "/name/version" and peer suffixes are appended with "_".
func pnpmLegacyFormat(version interface{}) bool {
	if version == nil {
		return false
	}
	v, err := strconv.ParseFloat(strings.Trim(fmt.Sprint(version), `'"`), 64)
	if err != nil {
		return false
	}
	return v < 6
}

// parsePnpmKey splits a packages key into name and version.
// Scoped names split on the last "@", unscoped names on the first.
func parsePnpmKey(key string, legacy bool) (string, string, bool) {
	key = strings.TrimPrefix(key, "/")
	key = stripPeerSuffix(key, false)

	var name, version string
	switch {
	case legacy:
		// v5: /name/version or /@scope/name/version
		if idx := strings.LastIndex(key, "/"); idx > 0 {
			name, version = key[:idx], stripPeerSuffix(key[idx+1:], true)
		}
	case strings.HasPrefix(key, "@"):
		if idx := strings.LastIndex(key, "@"); idx > 0 {
			name, version = key[:idx], key[idx+1:]
		}
	default:
		if idx := strings.Index(key, "@"); idx > 0 {
			name, version = key[:idx], key[idx+1:]
		}
	}

	if name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

// stripPeerSuffix removes the peer-dependency disambiguation pnpm appends to versions:
// "1.0.0(react@18.2.0)" -> "1.0.0", and for legacy lockfiles "1.0.0_react@18.2.0" -> "1.0.0".
func stripPeerSuffix(s string, legacy bool) string {
	if idx := strings.Index(s, "("); idx >= 0 {
		s = s[:idx]
	}
	if legacy {
		if idx := strings.Index(s, "_"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func addPnpmSpecifiers(pkgs model.ResolvedPackageMap, deps map[string]pnpmDependency, legacy bool) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		version := deps[name].Version
		if strings.HasPrefix(version, "link:") {
			continue // workspace-local symlink
		}
		version = stripPeerSuffix(version, legacy)
		if version == "" {
			continue
		}
		pkgs.SetIfAbsent(name, model.ResolvedPackage{Version: version})
	}
}

// sortedImporterKeys orders importers with the workspace root first.
func sortedImporterKeys(importers map[string]pnpmImporter) []string {
	keys := make([]string, 0, len(importers))
	for k := range importers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "." || keys[j] == "." {
			return keys[i] == "."
		}
		return keys[i] < keys[j]
	})
	return keys
}
