package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
)

const osvEcosystemNpm = "npm"

// ParseOSV converts an OSV advisory into a rule covering its npm packages.
// SEMVER and ECOSYSTEM ranges become "||"-joined constraint unions; explicit version lists
// become exact alternatives. Fixed events become the rule's fixed versions.
func ParseOSV(data []byte) (*model.CVERule, []string, error) {
	var vuln models.Vulnerability
	if err := json.Unmarshal(data, &vuln); err != nil {
		return nil, nil, fmt.Errorf("invalid OSV advisory: %w", err)
	}
	if vuln.ID == "" {
		return nil, nil, errors.New("OSV advisory has no id")
	}

	rule := &model.CVERule{
		ID:         vuln.ID,
		Title:      vuln.Summary,
		Severity:   osvSeverity(vuln),
		Packages:   []model.RulePackage{},
		Frameworks: []model.RulePackage{},
	}
	if rule.Title == "" {
		rule.Title = vuln.ID
	}
	rule.AdvisoryURL = osvAdvisoryURL(vuln)

	for _, affected := range vuln.Affected {
		if !strings.EqualFold(string(affected.Package.Ecosystem), osvEcosystemNpm) {
			continue
		}
		entry, ok := osvRulePackage(affected)
		if !ok {
			continue
		}
		rule.Packages = append(rule.Packages, entry)
	}

	if len(rule.Packages) == 0 {
		return nil, nil, fmt.Errorf("OSV advisory %s has no usable npm ranges", vuln.ID)
	}
	return rule, vuln.Aliases, nil
}

func osvRulePackage(affected models.Affected) (model.RulePackage, bool) {
	var clauses, fixed []string

	for _, vrange := range affected.Ranges {
		if vrange.Type != models.RangeEcosystem && vrange.Type != models.RangeSemVer {
			continue
		}
		rangeClauses, rangeFixed := osvRangeClauses(vrange)
		clauses = append(clauses, rangeClauses...)
		fixed = appendUnique(fixed, rangeFixed...)
	}
	clauses = append(clauses, affected.Versions...)

	if len(clauses) == 0 || affected.Package.Name == "" {
		return model.RulePackage{}, false
	}
	if len(fixed) == 0 {
		// No release fixes it; the matcher still needs a target, so point at the newest
		// affected version the advisory names.
		if n := len(affected.Versions); n > 0 {
			fixed = []string{affected.Versions[n-1]}
		} else {
			return model.RulePackage{}, false
		}
	}

	return model.RulePackage{
		Name:       affected.Package.Name,
		Vulnerable: strings.Join(clauses, " || "),
		Fixed:      fixed,
	}, true
}

// osvRangeClauses walks the ordered events of one range. Each introduced event opens an
// interval that the next fixed or last_affected event closes.
func osvRangeClauses(vrange models.Range) ([]string, []string) {
	var clauses, fixed []string
	introduced := ""
	open := false

	for _, event := range vrange.Events {
		switch {
		case event.Introduced != "":
			if open {
				clauses = append(clauses, lowerBound(introduced))
			}
			introduced = event.Introduced
			open = true
		case event.Fixed != "":
			clauses = append(clauses, strings.TrimSpace(lowerBound(introduced)+" <"+event.Fixed))
			fixed = append(fixed, event.Fixed)
			open = false
		case event.LastAffected != "":
			clauses = append(clauses, strings.TrimSpace(lowerBound(introduced)+" <="+event.LastAffected))
			open = false
		case event.Limit != "":
			if open {
				clauses = append(clauses, strings.TrimSpace(lowerBound(introduced)+" <"+event.Limit))
				open = false
			}
		}
	}
	if open {
		clauses = append(clauses, lowerBound(introduced))
	}
	return clauses, fixed
}

// lowerBound renders an introduced version; "0" means every version.
func lowerBound(introduced string) string {
	if introduced == "" || introduced == "0" {
		return ">=0.0.0"
	}
	return ">=" + introduced
}

func osvSeverity(vuln models.Vulnerability) model.Severity {
	if raw, ok := vuln.DatabaseSpecific["severity"].(string); ok {
		if sev := model.SeverityFromString(raw); sev != model.SeverityUnknown {
			return sev
		}
	}
	return model.SeverityUnknown
}

func osvAdvisoryURL(vuln models.Vulnerability) string {
	for _, ref := range vuln.References {
		if string(ref.Type) == "ADVISORY" && ref.URL != "" {
			return ref.URL
		}
	}
	if len(vuln.References) > 0 {
		return vuln.References[0].URL
	}
	return ""
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		if !util.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}
