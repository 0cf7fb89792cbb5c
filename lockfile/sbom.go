package lockfile

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
)

// cycloneDXDocument holds the subset of a CycloneDX 1.4/1.5 JSON BOM that is needed to
// recover package versions.
type cycloneDXDocument struct {
	BOMFormat   string `json:"bomFormat"`
	SpecVersion string `json:"specVersion"`
	Metadata    struct {
		Component *cycloneDXComponent `json:"component"`
	} `json:"metadata"`
	Components []cycloneDXComponent `json:"components"`
}

type cycloneDXComponent struct {
	Type       string               `json:"type"`
	Group      string               `json:"group"`
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	Purl       string               `json:"purl"`
	Components []cycloneDXComponent `json:"components"`
}

// SBOMParser reads CycloneDX JSON SBOMs. It is not part of DefaultParsers; SBOMs are scanned
// explicitly by path.
type SBOMParser struct {
	logger *zap.Logger
}

// NewSBOMParser creates an SBOMParser logging diagnostics to logger.
func NewSBOMParser(logger *zap.Logger) *SBOMParser {
	return &SBOMParser{logger: util.OrNop(logger)}
}

// Format implements Parser.
func (p *SBOMParser) Format() Format { return FormatCycloneDX }

// Parse implements Parser by looking for bom.json or sbom.json in dir.
func (p *SBOMParser) Parse(dir string) Result {
	path := util.FindFile([]string{
		filepath.Join(dir, "bom.json"),
		filepath.Join(dir, "sbom.json"),
	})
	if path == "" {
		return NotPresent()
	}
	return p.ParseFile(path)
}

// ParseFile parses the SBOM at path. The returned Result's Subject is the name of the
// described component, when the BOM declares one.
func (p *SBOMParser) ParseFile(path string) Result {
	data, err := readLockfile(path)
	if err != nil {
		logSkipped(p.logger, FormatCycloneDX, path, err)
		return NotPresent()
	}

	pkgs, subject, err := parseCycloneDX(data)
	if err != nil {
		logSkipped(p.logger, FormatCycloneDX, path, err)
		return NotPresent()
	}

	res := Found(FormatCycloneDX, path, pkgs)
	res.Subject = subject
	return res
}

func parseCycloneDX(data []byte) (model.ResolvedPackageMap, string, error) {
	var doc cycloneDXDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}
	if doc.BOMFormat != "CycloneDX" {
		return nil, "", fmt.Errorf("unsupported bomFormat %q", doc.BOMFormat)
	}

	subject := ""
	if doc.Metadata.Component != nil {
		subject = doc.Metadata.Component.Name
	}

	pkgs := model.ResolvedPackageMap{}
	collectCycloneDXComponents(doc.Components, pkgs)
	return pkgs, subject, nil
}

// collectCycloneDXComponents walks components depth first; the first occurrence of a name wins.
// Components without a type are kept since several npm generators omit it. An SBOM carries no
// tarball location, so ResolvedURL stays empty.
func collectCycloneDXComponents(components []cycloneDXComponent, pkgs model.ResolvedPackageMap) {
	for _, c := range components {
		if c.Type == "" || c.Type == "library" {
			if name, version := cycloneDXNameVersion(c); name != "" && version != "" {
				pkgs.SetIfAbsent(name, model.ResolvedPackage{Version: version})
			}
		}
		collectCycloneDXComponents(c.Components, pkgs)
	}
}

// cycloneDXNameVersion prefers the purl, which carries the registry name exactly, and falls
// back to the name, group and version fields.
func cycloneDXNameVersion(c cycloneDXComponent) (string, string) {
	if c.Purl != "" {
		if purl, err := util.ParsePURL(c.Purl); err == nil && purl.Name != "" {
			version := purl.Version
			if version == "" {
				version = c.Version
			}
			return util.PURLPackageName(purl), version
		}
	}

	name := c.Name
	if c.Group != "" && !strings.HasPrefix(name, "@") {
		group := c.Group
		if !strings.HasPrefix(group, "@") {
			group = "@" + group
		}
		name = group + "/" + name
	}
	return name, c.Version
}
