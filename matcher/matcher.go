// Package matcher decides whether resolved package versions fall inside a rule's vulnerable
// ranges and picks the closest fixed release for each finding.
package matcher

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ortelius/lockscan/model"
)

// parseVersion parses a concrete version strictly, tolerating a leading "v".
func parseVersion(version string) (*semver.Version, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	return semver.StrictNewVersion(version)
}

// IsVulnerable reports whether version satisfies rangeExpr. Unions (||), hyphen ranges, ^, ~
// and x-ranges are supported. Anything that fails to parse is reported as not vulnerable.
func IsVulnerable(version, rangeExpr string) bool {
	v, err := parseVersion(version)
	if err != nil {
		return false
	}
	if strings.TrimSpace(rangeExpr) == "" {
		return false
	}
	constraint, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// FindFixedVersion selects the upgrade target for current from fixed, preferring in order:
// the first listed release on the same major.minor line, the nearest later minor on the same
// major, and finally the greatest release listed. The result is always an element of fixed,
// or "" when fixed is empty.
func FindFixedVersion(current string, fixed []string) string {
	if len(fixed) == 0 {
		return ""
	}

	type candidate struct {
		raw     string
		version *semver.Version
	}
	var candidates []candidate
	for _, raw := range fixed {
		if v, err := parseVersion(raw); err == nil {
			candidates = append(candidates, candidate{raw: raw, version: v})
		}
	}
	if len(candidates) == 0 {
		return fixed[len(fixed)-1]
	}

	cur, err := parseVersion(current)
	if err == nil {
		// the first listed release on the current line wins, before any reordering
		for _, c := range candidates {
			if c.version.Major() == cur.Major() && c.version.Minor() == cur.Minor() {
				return c.raw
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].version.LessThan(candidates[j].version)
	})
	greatest := candidates[len(candidates)-1].raw
	if err != nil {
		return greatest
	}

	for _, c := range candidates {
		if c.version.Major() == cur.Major() && c.version.Minor() > cur.Minor() {
			return c.raw
		}
	}
	return greatest
}

// Match evaluates rule against resolved and returns one finding per vulnerable entry,
// packages first, then frameworks. Names missing from resolved are skipped.
func Match(rule *model.CVERule, resolved model.ResolvedPackageMap) []model.Finding {
	findings := []model.Finding{}
	if rule == nil || len(resolved) == 0 {
		return findings
	}

	for _, entry := range rule.Entries() {
		version, ok := resolved.Version(entry.Name)
		if !ok {
			continue
		}
		if !IsVulnerable(version, entry.Vulnerable) {
			continue
		}
		findings = append(findings, model.Finding{
			Package:        entry.Name,
			CurrentVersion: version,
			FixedVersion:   FindFixedVersion(version, entry.Fixed),
			Severity:       rule.Severity,
			AdvisoryURL:    rule.AdvisoryURL,
		})
	}
	return findings
}
