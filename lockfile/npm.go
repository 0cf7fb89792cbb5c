package lockfile

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// npmLockfileNames are tried in order.
var npmLockfileNames = []string{"package-lock.json", "npm-shrinkwrap.json"}

// NpmParser reads package-lock.json (lockfileVersion 1, 2 and 3).
//
// The v2/v3 "packages" map is keyed by node_modules paths and a later key overwrites an
// earlier one with the same package name. The v1 "dependencies" tree is only consulted when
// "packages" yields nothing, and there the first occurrence of a name wins. Both walks follow
// document order.
type NpmParser struct {
	logger *zap.Logger
}

// NewNpmParser creates an NpmParser logging diagnostics to logger.
func NewNpmParser(logger *zap.Logger) *NpmParser {
	return &NpmParser{logger: util.OrNop(logger)}
}

// Format implements Parser.
func (p *NpmParser) Format() Format { return FormatNpm }

// Parse implements Parser.
func (p *NpmParser) Parse(dir string) Result {
	for _, name := range npmLockfileNames {
		path := filepath.Join(dir, name)
		if !util.FileExists(path) {
			continue
		}
		pkgs, err := p.ParseFile(path)
		if err != nil {
			logSkipped(p.logger, FormatNpm, path, err)
			return NotPresent()
		}
		return Found(FormatNpm, path, pkgs)
	}
	return NotPresent()
}

// ParseFile parses a single npm lockfile.
func (p *NpmParser) ParseFile(path string) (model.ResolvedPackageMap, error) {
	data, err := readLockfile(path)
	if err != nil {
		return nil, err
	}
	return parseNpmLockfile(data)
}

func parseNpmLockfile(data []byte) (model.ResolvedPackageMap, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, errors.New("lockfile root is not an object")
	}

	pkgs := model.ResolvedPackageMap{}

	doc.Get("packages").ForEach(func(key, entry gjson.Result) bool {
		if key.String() == "" {
			return true // root project
		}
		version := entry.Get("version").String()
		if version == "" {
			return true // workspace links carry no version
		}
		pkgs[npmPackageName(key.String())] = npmResolved(entry)
		return true
	})

	if len(pkgs) == 0 {
		flattenNpmDependencies(doc.Get("dependencies"), pkgs)
	}
	return pkgs, nil
}

// npmPackageName derives the package name from a node_modules-relative key:
// node_modules/@scope/pkg -> @scope/pkg, node_modules/a/node_modules/b -> b.
func npmPackageName(key string) string {
	parts := strings.Split(key, "node_modules/")
	return parts[len(parts)-1]
}

// flattenNpmDependencies walks the v1 nested tree depth first; the first occurrence wins.
func flattenNpmDependencies(deps gjson.Result, pkgs model.ResolvedPackageMap) {
	deps.ForEach(func(name, entry gjson.Result) bool {
		if version := entry.Get("version").String(); version != "" {
			pkgs.SetIfAbsent(name.String(), npmResolved(entry))
		}
		if nested := entry.Get("dependencies"); nested.IsObject() {
			flattenNpmDependencies(nested, pkgs)
		}
		return true
	})
}

func npmResolved(entry gjson.Result) model.ResolvedPackage {
	return model.ResolvedPackage{
		Version:     entry.Get("version").String(),
		ResolvedURL: entry.Get("resolved").String(),
		Integrity:   entry.Get("integrity").String(),
	}
}
