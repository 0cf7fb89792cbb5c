package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewScanRecord(t *testing.T) {
	result := NewScanResult("CVE-2025-55182")
	result.AddProject(NewProjectResult("web", "/repo/web", "nextjs", []Finding{
		{Package: "next", CurrentVersion: "15.2.1", FixedVersion: "15.2.6", Severity: SeverityCritical},
		{Package: "@scope/rsc", CurrentVersion: "19.0.0", FixedVersion: "19.0.1", Severity: SeverityCritical},
	}))
	result.AddProject(NewProjectResult("docs", "/repo/docs", "nextjs", []Finding{
		{Package: "next", CurrentVersion: "15.2.1", FixedVersion: "15.2.6", Severity: SeverityCritical},
		{Package: "next", CurrentVersion: "15.3.0", FixedVersion: "15.3.6", Severity: SeverityCritical},
	}))
	result.AddProject(NewProjectResult("api", "/repo/api", "express", nil))

	rec := NewScanRecord("directory", "/repo", result)

	assert.Equal(t, ObjTypeScan, rec.ObjType)
	assert.Equal(t, "CVE-2025-55182", rec.CVE)
	assert.True(t, rec.Vulnerable)
	assert.Equal(t, 3, rec.ProjectCount)
	assert.Equal(t, 4, rec.FindingCount)
	assert.Len(t, rec.Purls, 3)
	assert.Contains(t, rec.Purls, "pkg:npm/next@15.2.1")
	assert.Contains(t, rec.Purls, "pkg:npm/next@15.3.0")
	assert.Len(t, rec.BasePurls, 2)
	assert.Contains(t, rec.BasePurls, "pkg:npm/next")
}

func TestProjectAndScanResult(t *testing.T) {
	clean := NewProjectResult("a", "/a", "node", nil)
	assert.False(t, clean.Vulnerable)
	assert.NotNil(t, clean.Findings)

	result := NewScanResult("CVE-1")
	result.AddProject(clean)
	assert.False(t, result.Vulnerable)
	result.AddProject(NewProjectResult("b", "/b", "react", []Finding{{Package: "x"}}))
	assert.True(t, result.Vulnerable)
	result.AddProject(clean)
	assert.True(t, result.Vulnerable)
	assert.Equal(t, 1, result.FindingCount())
}

func TestSeverityFromString(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFromString("CRITICAL"))
	assert.Equal(t, SeverityMedium, SeverityFromString("moderate"))
	assert.Equal(t, SeverityInfo, SeverityFromString("NONE"))
	assert.Equal(t, SeverityUnknown, SeverityFromString("bogus"))
	assert.Greater(t, SeverityCritical.Priority(), SeverityHigh.Priority())
}
