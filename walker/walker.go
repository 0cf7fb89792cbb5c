// Package walker provides the single bounded directory traversal used for project discovery
// and watch registration.
package walker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxDepth is the traversal depth used when Options.MaxDepth is zero.
const DefaultMaxDepth = 25

// DefaultIgnore lists directory names that never contain first-party projects.
var DefaultIgnore = []string{
	"node_modules",
	".git",
	"dist",
	"build",
	".next",
	".nuxt",
	".svelte-kit",
	".turbo",
	".cache",
	".output",
	"coverage",
	".vercel",
	".parcel-cache",
}

// Options controls a walk.
type Options struct {
	// MaxDepth is the deepest directory level visited below the root (the root is depth 0).
	MaxDepth int
	// Ignore holds extra directory base names or doublestar patterns relative to the root.
	Ignore []string
}

// DirFunc is called for every directory visited, with its depth below the root.
// Returning filepath.SkipDir skips the directory's children; any other error stops the walk.
type DirFunc func(path string, depth int) error

// Walk visits root and its subdirectories in lexical order. Ignored, hidden and symlinked
// directories are not descended into and unreadable subtrees are skipped.
func Walk(root string, opts Options, fn DirFunc) error {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		// The root itself may be a link; nothing below it is followed.
		if root, err = filepath.EvalSymlinks(root); err != nil {
			return err
		}
		if info, err = os.Stat(root); err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "walk", Path: root, Err: errors.New("not a directory")}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// WalkDir reports symlinks with the ModeSymlink type and never follows them.
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return filepath.SkipDir
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(filepath.ToSlash(rel), "/") + 1
			if ShouldSkip(rel, d.Name(), opts.Ignore) {
				return filepath.SkipDir
			}
		}
		if depth > maxDepth {
			return filepath.SkipDir
		}

		if err := fn(path, depth); err != nil {
			return err
		}
		if depth == maxDepth {
			return filepath.SkipDir
		}
		return nil
	})
}

// ShouldSkip reports whether a directory, given by its root-relative path and base name,
// is excluded from traversal.
func ShouldSkip(rel, name string, ignore []string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, n := range DefaultIgnore {
		if name == n {
			return true
		}
	}

	rel = filepath.ToSlash(rel)
	for _, pattern := range ignore {
		pattern = strings.TrimSuffix(filepath.ToSlash(strings.TrimSpace(pattern)), "/")
		pattern = strings.TrimPrefix(pattern, "./")
		if pattern == "" {
			continue
		}
		if pattern == name || pattern == rel {
			return true
		}
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match(pattern, name); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// FindProjects returns every directory under root holding a package.json, in walk order.
func FindProjects(root string, opts Options) ([]string, error) {
	var projects []string
	err := Walk(root, opts, func(path string, _ int) error {
		if info, err := os.Stat(filepath.Join(path, "package.json")); err == nil && info.Mode().IsRegular() {
			projects = append(projects, path)
		}
		return nil
	})
	return projects, err
}

// IsIgnored reports whether the root-relative path rel, or any directory above it, would be
// skipped by a walk with the given ignore patterns.
func IsIgnored(rel string, ignore []string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		if ShouldSkip(strings.Join(parts[:i+1], "/"), parts[i], ignore) {
			return true
		}
	}
	return false
}
