package lockfile

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
)

const yarnLockfileName = "yarn.lock"

// maxYarnLine bounds a single yarn.lock line; headers listing many specifiers can be long.
const maxYarnLine = 4 << 20

// YarnParser reads yarn.lock in both the Classic (v1) and Berry (v2+) dialects.
// Within a parse the first entry that yields a package name wins.
type YarnParser struct {
	logger *zap.Logger
}

// NewYarnParser creates a YarnParser logging diagnostics to logger.
func NewYarnParser(logger *zap.Logger) *YarnParser {
	return &YarnParser{logger: util.OrNop(logger)}
}

// Format implements Parser.
func (p *YarnParser) Format() Format { return FormatYarn }

// Parse implements Parser.
func (p *YarnParser) Parse(dir string) Result {
	path := filepath.Join(dir, yarnLockfileName)
	if !util.FileExists(path) {
		return NotPresent()
	}
	pkgs, err := p.ParseFile(path)
	if err != nil {
		logSkipped(p.logger, FormatYarn, path, err)
		return NotPresent()
	}
	return Found(FormatYarn, path, pkgs)
}

// ParseFile parses a single yarn lockfile.
func (p *YarnParser) ParseFile(path string) (model.ResolvedPackageMap, error) {
	data, err := readLockfile(path)
	if err != nil {
		return nil, err
	}
	return parseYarnLockfile(data)
}

// isYarnBerry reports whether the lockfile uses the Berry dialect.
func isYarnBerry(data []byte) bool {
	return bytes.Contains(data, []byte("__metadata:")) || bytes.Contains(data, []byte("@npm:"))
}

// yarnEntry accumulates one header block.
type yarnEntry struct {
	names []string
	pkg   model.ResolvedPackage
}

func parseYarnLockfile(data []byte) (model.ResolvedPackageMap, error) {
	berry := isYarnBerry(data)
	pkgs := model.ResolvedPackageMap{}

	var current *yarnEntry
	flush := func() {
		if current != nil && current.pkg.Version != "" {
			for _, name := range current.names {
				pkgs.SetIfAbsent(name, current.pkg)
			}
		}
		current = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxYarnLine)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			flush()
			if !strings.HasSuffix(line, ":") {
				continue
			}
			current = &yarnEntry{names: yarnHeaderNames(strings.TrimSuffix(line, ":"), berry)}
			continue
		}

		if current == nil || !isYarnFieldLine(line) {
			continue
		}
		key, value := splitYarnField(strings.TrimSpace(line))
		switch key {
		case "version":
			current.pkg.Version = value
		case "resolved", "resolution":
			current.pkg.ResolvedURL = value
		case "integrity", "checksum":
			current.pkg.Integrity = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return pkgs, nil
}

// isYarnFieldLine accepts only the first indentation level; deeper lines belong to nested
// blocks such as "dependencies:".
func isYarnFieldLine(line string) bool {
	return strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   ")
}

// splitYarnField splits `version "1.2.3"` (Classic) or `version: 1.2.3` (Berry) at the first
// separator, so a Classic lockfile that happens to contain alias headers still parses.
func splitYarnField(line string) (string, string) {
	idx := strings.IndexAny(line, " \t:")
	if idx < 0 {
		return "", ""
	}
	key := strings.Trim(line[:idx], `"`)
	value := strings.Trim(line[idx+1:], " \t:\"")
	return key, value
}

// yarnHeaderNames returns the distinct package names declared by an entry header such as
// `"pkg@^1.0.0", "pkg@^2.0.0"` or `"@scope/pkg@npm:^1.0.0, @scope/pkg@npm:^1.1.0"`.
func yarnHeaderNames(header string, berry bool) []string {
	var names []string
	for _, spec := range strings.Split(header, ",") {
		spec = strings.Trim(strings.TrimSpace(spec), `"`)
		if spec == "" || spec == "__metadata" {
			continue
		}
		name := yarnPackageName(spec, berry)
		if name != "" && !util.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// yarnPackageName extracts the package name from one specifier.
// Berry protocol suffixes (@npm:, @workspace:, @patch:, ...) are removed first; scoped names
// then split on the last "@", unscoped names on the first.
func yarnPackageName(spec string, berry bool) string {
	if berry {
		spec = stripYarnProtocol(spec)
	}

	if strings.HasPrefix(spec, "@") {
		idx := strings.LastIndex(spec, "@")
		if idx <= 0 {
			return spec
		}
		return spec[:idx]
	}

	idx := strings.Index(spec, "@")
	if idx < 0 {
		return spec
	}
	return spec[:idx]
}

// stripYarnProtocol cuts a specifier at the first "@<protocol>:" past the scope marker.
func stripYarnProtocol(spec string) string {
	for i := 1; i < len(spec); i++ {
		if spec[i] != '@' {
			continue
		}
		rest := spec[i+1:]
		colon := strings.Index(rest, ":")
		if colon <= 0 {
			continue
		}
		if isYarnProtocol(rest[:colon]) {
			return spec[:i]
		}
	}
	return spec
}

func isYarnProtocol(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '+' && r != '-' {
			return false
		}
	}
	return true
}
