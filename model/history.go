package model

import (
	"sort"
	"time"

	"github.com/ortelius/lockscan/util"
)

// ObjTypeScan tags scan documents in the history database
const ObjTypeScan = "SCAN"

// ScanRecord is one stored scan with the denormalized fields the history queries filter on
type ScanRecord struct {
	Key          string     `json:"_key,omitempty"`
	ObjType      string     `json:"objtype"`
	Kind         string     `json:"kind"`   // directory or sbom
	Target       string     `json:"target"` // Scanned path
	CVE          string     `json:"cve"`
	Vulnerable   bool       `json:"vulnerable"`
	ScanTime     time.Time  `json:"scanTime"`
	ProjectCount int        `json:"projectCount"`
	FindingCount int        `json:"findingCount"`
	Purls        []string   `json:"purls"`     // Vulnerable package versions as package-urls
	BasePurls    []string   `json:"basePurls"` // Same, without versions
	Result       ScanResult `json:"result"`
}

// NewScanRecord builds the record for result, indexing every vulnerable npm package version
// by package-url.
func NewScanRecord(kind, target string, result *ScanResult) *ScanRecord {
	rec := &ScanRecord{
		ObjType:      ObjTypeScan,
		Kind:         kind,
		Target:       target,
		CVE:          result.CVE,
		Vulnerable:   result.Vulnerable,
		ScanTime:     result.ScanTime,
		ProjectCount: len(result.Projects),
		FindingCount: result.FindingCount(),
		Purls:        []string{},
		BasePurls:    []string{},
		Result:       *result,
	}

	seen := map[string]bool{}
	seenBase := map[string]bool{}
	for _, project := range result.Projects {
		for _, f := range project.Findings {
			p := util.NpmPURL(f.Package, f.CurrentVersion)
			if seen[p] {
				continue
			}
			seen[p] = true
			rec.Purls = append(rec.Purls, p)

			if b, err := util.GetBasePURL(p); err == nil && !seenBase[b] {
				seenBase[b] = true
				rec.BasePurls = append(rec.BasePurls, b)
			}
		}
	}
	sort.Strings(rec.Purls)
	sort.Strings(rec.BasePurls)
	return rec
}
