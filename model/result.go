// Package model - result types returned by the two scan entry points and consumed by the
// CLI, HTTP API, GraphQL schema and result history.
package model

import "time"

// Finding reports one vulnerable resolved package and the upgrade target that fixes it
type Finding struct {
	Package        string   `json:"package"`
	CurrentVersion string   `json:"currentVersion"`
	FixedVersion   string   `json:"fixedVersion"`
	Severity       Severity `json:"severity"`
	AdvisoryURL    string   `json:"advisoryUrl,omitempty"`
}

// ProjectResult is the outcome for one project directory (or one SBOM)
type ProjectResult struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Framework  string    `json:"framework"`
	Findings   []Finding `json:"findings"`
	Vulnerable bool      `json:"vulnerable"`
}

// NewProjectResult builds a ProjectResult, deriving Vulnerable from the findings
func NewProjectResult(name, path, framework string, findings []Finding) ProjectResult {
	if findings == nil {
		findings = []Finding{}
	}
	return ProjectResult{
		Name:       name,
		Path:       path,
		Framework:  framework,
		Findings:   findings,
		Vulnerable: len(findings) > 0,
	}
}

// ScanResult is the aggregate outcome of a directory or SBOM scan.
// Field names and nesting are a stable contract for report formatters and remote consumers.
type ScanResult struct {
	CVE        string          `json:"cve"`
	Vulnerable bool            `json:"vulnerable"`
	ScanTime   time.Time       `json:"scanTime"`
	Projects   []ProjectResult `json:"projects"`
	Errors     []string        `json:"errors"`
}

// NewScanResult is the constructor that sets the appropriate default values
func NewScanResult(cve string) *ScanResult {
	return &ScanResult{
		CVE:      cve,
		ScanTime: time.Now().UTC(),
		Projects: []ProjectResult{},
		Errors:   []string{},
	}
}

// AddProject appends a project and folds its status into Vulnerable.
func (r *ScanResult) AddProject(p ProjectResult) {
	r.Projects = append(r.Projects, p)
	r.Vulnerable = r.Vulnerable || p.Vulnerable
}

// AddError records a non-fatal error message.
func (r *ScanResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// FindingCount returns the number of findings across all projects.
func (r *ScanResult) FindingCount() int {
	n := 0
	for _, p := range r.Projects {
		n += len(p.Findings)
	}
	return n
}
