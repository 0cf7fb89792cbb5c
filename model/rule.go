package model

// RulePackage is one affected package (or framework) entry of a CVE rule
type RulePackage struct {
	Name       string   `json:"name"`
	Vulnerable string   `json:"vulnerable"` // semver range expression, unions joined by ||
	Fixed      []string `json:"fixed"`
	Notes      string   `json:"notes,omitempty"`
}

// CVERule is a declarative description of which package versions a CVE affects
type CVERule struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Severity    Severity      `json:"severity"`
	CVSS        *float64      `json:"cvss,omitempty"`
	Packages    []RulePackage `json:"packages"`
	Frameworks  []RulePackage `json:"frameworks"`
	AdvisoryURL string        `json:"advisoryUrl,omitempty"`
}

// Entries returns the package entries followed by the framework entries.
func (r *CVERule) Entries() []RulePackage {
	entries := make([]RulePackage, 0, len(r.Packages)+len(r.Frameworks))
	entries = append(entries, r.Packages...)
	return append(entries, r.Frameworks...)
}
