// Package lockfile parses npm, pnpm and yarn lockfiles and CycloneDX SBOMs into a
// model.ResolvedPackageMap. Parsers never fail the caller: malformed, unreadable or oversized
// input is logged and reported as NotPresent.
package lockfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ortelius/lockscan/model"
	"go.uber.org/zap"
)

// MaxLockfileSize is the largest lockfile that will be read. Larger files are treated as absent.
const MaxLockfileSize int64 = 100 << 20

// ErrTooLarge is returned by readLockfile for files over MaxLockfileSize
var ErrTooLarge = errors.New("lockfile exceeds size limit")

// Format identifies the on-disk format a Result was parsed from
type Format string

const (
	// FormatNpm is package-lock.json / npm-shrinkwrap.json.
	FormatNpm Format = "npm"
	// FormatPnpm is pnpm-lock.yaml.
	FormatPnpm Format = "pnpm"
	// FormatYarn is yarn.lock, Classic or Berry.
	FormatYarn Format = "yarn"
	// FormatCycloneDX is a CycloneDX JSON SBOM.
	FormatCycloneDX Format = "cyclonedx"
)

// Result is the tagged outcome of a parse: either Found with a package map, or NotPresent.
type Result struct {
	Packages model.ResolvedPackageMap
	Format   Format
	Path     string // File the packages were read from
	Subject  string // Name of the described component, SBOMs only

	found bool
}

// Found builds a Result carrying pkgs.
func Found(format Format, path string, pkgs model.ResolvedPackageMap) Result {
	if pkgs == nil {
		pkgs = model.ResolvedPackageMap{}
	}
	return Result{Packages: pkgs, Format: format, Path: path, found: true}
}

// NotPresent is the Result for a missing, unreadable, malformed or oversized lockfile.
func NotPresent() Result {
	return Result{}
}

// IsFound reports whether the Result carries a package map.
func (r Result) IsFound() bool {
	return r.found
}

// Parser reads one lockfile format from a project directory.
type Parser interface {
	Format() Format
	Parse(dir string) Result
}

// DefaultParsers returns the lockfile parsers in probing priority order: npm, pnpm, yarn.
func DefaultParsers(logger *zap.Logger) []Parser {
	return []Parser{
		NewNpmParser(logger),
		NewPnpmParser(logger),
		NewYarnParser(logger),
	}
}

// Detect returns the first Found result from parsers, tried in order.
func Detect(dir string, parsers []Parser) Result {
	for _, p := range parsers {
		if res := p.Parse(dir); res.IsFound() {
			return res
		}
	}
	return NotPresent()
}

// readLockfile reads path, refusing files larger than MaxLockfileSize without reading them.
func readLockfile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > MaxLockfileSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrTooLarge)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxLockfileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxLockfileSize {
		return nil, fmt.Errorf("%s grew past the size limit while reading: %w", path, ErrTooLarge)
	}
	return data, nil
}

// logSkipped records why a lockfile that exists could not be used.
func logSkipped(logger *zap.Logger, format Format, path string, err error) {
	if errors.Is(err, ErrTooLarge) {
		logger.Warn("Skipping oversized lockfile", zap.String("format", string(format)), zap.String("path", path), zap.Error(err))
		return
	}
	logger.Warn("Failed to parse lockfile", zap.String("format", string(format)), zap.String("path", path), zap.Error(err))
}
