package model

import (
	"encoding/json"
	"strings"
)

// Severity is a normalized severity level for a CVE rule and its findings.
type Severity string

const (
	// SeverityCritical - actively exploited or trivially exploitable.
	SeverityCritical Severity = "critical"
	// SeverityHigh - serious, fix urgently.
	SeverityHigh Severity = "high"
	// SeverityMedium - moderate risk.
	SeverityMedium Severity = "medium"
	// SeverityLow - minor issue.
	SeverityLow Severity = "low"
	// SeverityInfo - informational.
	SeverityInfo Severity = "info"
	// SeverityUnknown - could not be determined.
	SeverityUnknown Severity = "unknown"
)

// SeverityFromString normalizes the spellings used by rule documents, OSV and GHSA
// (CRITICAL, MODERATE, ...) to a Severity.
func SeverityFromString(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	case "INFO", "INFORMATIONAL", "NONE":
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// Priority returns the numeric priority, higher is more severe.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// UnmarshalJSON normalizes the severity on decode.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SeverityFromString(raw)
	return nil
}
