// Package workspace detects monorepo layouts (pnpm, lerna, npm and yarn workspaces) and
// expands their package globs into member directories that are guaranteed to stay inside the
// repository root.
package workspace

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ortelius/lockscan/manifest"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var pnpmWorkspaceFiles = []string{"pnpm-workspace.yaml", "pnpm-workspace.yml"}

const lernaFile = "lerna.json"

// defaultLernaPatterns is lerna's own default when lerna.json lists no packages.
var defaultLernaPatterns = []string{"packages/*"}

// Resolver detects workspaces.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a Resolver logging diagnostics to logger.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: util.OrNop(logger)}
}

// Resolve inspects root and returns the detected workspace. A root without any workspace
// declaration yields Type WorkspaceNone and no packages.
func (r *Resolver) Resolve(root string) *model.WorkspaceInfo {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = filepath.Clean(root)
	}
	info := &model.WorkspaceInfo{
		Type:     model.WorkspaceNone,
		RootPath: absRoot,
		Patterns: []string{},
		Packages: []string{},
	}

	wsType, patterns := r.detect(absRoot)
	if wsType == model.WorkspaceNone {
		return info
	}

	info.Type = wsType
	info.Patterns = patterns
	info.Packages = r.expand(absRoot, patterns)

	r.logger.Debug("Detected workspace",
		zap.String("type", string(wsType)),
		zap.String("root", absRoot),
		zap.Strings("patterns", patterns),
		zap.Int("packages", len(info.Packages)))
	return info
}

func (r *Resolver) detect(root string) (model.WorkspaceType, []string) {
	for _, name := range pnpmWorkspaceFiles {
		path := filepath.Join(root, name)
		if !util.FileExists(path) {
			continue
		}
		patterns, err := readPnpmWorkspace(path)
		if err != nil {
			r.logger.Warn("Failed to read pnpm workspace file", zap.String("path", path), zap.Error(err))
			break
		}
		return model.WorkspacePnpm, patterns
	}

	decl, manifestErr := manifest.Read(root)

	if path := filepath.Join(root, lernaFile); util.FileExists(path) {
		patterns, err := readLernaPackages(path)
		if err != nil {
			r.logger.Warn("Failed to read lerna.json", zap.String("path", path), zap.Error(err))
		}
		if len(patterns) == 0 && manifestErr == nil {
			patterns = decl.Workspaces
		}
		if len(patterns) == 0 {
			patterns = defaultLernaPatterns
		}
		return model.WorkspaceLerna, patterns
	}

	if manifestErr == nil && len(decl.Workspaces) > 0 {
		if util.FileExists(filepath.Join(root, "yarn.lock")) {
			return model.WorkspaceYarn, decl.Workspaces
		}
		return model.WorkspaceNpm, decl.Workspaces
	}

	return model.WorkspaceNone, nil
}

func readPnpmWorkspace(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Packages []string `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return doc.Packages, nil
}

func readLernaPackages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc.Packages, nil
}

// expand globs every pattern against root and returns the sorted, de-duplicated member
// directories. Symlinks are not followed and a trailing "**" never descends into node_modules.
func (r *Resolver) expand(root string, patterns []string) []string {
	fsys := os.DirFS(root)
	seen := map[string]bool{}
	packages := []string{}

	for _, raw := range patterns {
		pattern, ok := NormalizePattern(raw)
		if !ok {
			r.logger.Debug("Ignoring workspace pattern", zap.String("pattern", raw))
			continue
		}

		// Walk member directories rather than manifests so "**" hands each directory to the
		// callback, which is the only place a subtree can be pruned.
		dirPattern := strings.TrimSuffix(strings.TrimSuffix(pattern, "package.json"), "/")
		if dirPattern == "" {
			continue
		}
		recursive := strings.HasSuffix(dirPattern, "**")

		err := doublestar.GlobWalk(fsys, dirPattern, func(match string, d fs.DirEntry) error {
			if !d.IsDir() {
				return nil
			}
			dir := filepath.FromSlash(match)
			if containsNodeModules(dir) {
				// SkipDir outside a "**" walk would drop the remaining siblings too
				if recursive {
					return doublestar.SkipDir
				}
				return nil
			}
			if !util.FileExists(filepath.Join(root, dir, "package.json")) {
				return nil
			}
			abs, ok := Contain(root, dir)
			if !ok || abs == root || seen[abs] {
				return nil
			}
			seen[abs] = true
			packages = append(packages, abs)
			return nil
		}, doublestar.WithNoFollow())
		if err != nil {
			r.logger.Warn("Invalid workspace pattern", zap.String("pattern", raw), zap.Error(err))
		}
	}

	sort.Strings(packages)
	return packages
}

// NormalizePattern turns a workspace glob into a doublestar pattern matching member
// package.json files. Negations, patterns that climb out of the root with "..", and rooted
// patterns are rejected.
func NormalizePattern(pattern string) (string, bool) {
	pattern = strings.TrimSpace(filepath.ToSlash(pattern))
	if pattern == "" || strings.HasPrefix(pattern, "!") {
		return "", false
	}
	if strings.Contains(pattern, "..") || strings.HasPrefix(pattern, "/") || filepath.IsAbs(pattern) {
		return "", false
	}

	for strings.HasPrefix(pattern, "./") {
		pattern = strings.TrimPrefix(pattern, "./")
	}
	pattern = strings.TrimSuffix(pattern, "/")
	if pattern == "" || pattern == "." {
		return "", false
	}

	// "packages/*" becomes "packages/*/package.json"; explicit manifest paths are kept.
	if pattern != "package.json" && !strings.HasSuffix(pattern, "/package.json") {
		pattern += "/package.json"
	}

	if !doublestar.ValidatePattern(pattern) {
		return "", false
	}
	return pattern, true
}

// Contain resolves dir against root and returns the absolute path when it lies lexically
// inside root.
func Contain(root, dir string) (string, bool) {
	abs := dir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, dir)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || filepath.IsAbs(rel) {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

func containsNodeModules(dir string) bool {
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == "node_modules" {
			return true
		}
	}
	return false
}
