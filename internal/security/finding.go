// Package security runs static analyzers over a working copy and normalizes
// their output, together with model-reported issues, into one finding shape.
package security

import (
	"sort"
	"strings"
)

// Severity ranks a finding.
type Severity string

// Supported severities, most severe first.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Finding sources.
const (
	SourceBandit   = "bandit"
	SourceSafety   = "safety"
	SourceGitleaks = "gitleaks"
	SourceAI       = "ai"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// ParseSeverity maps tool-specific severity labels onto Severity. Unknown labels become LOW.
func ParseSeverity(label string) Severity {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CRITICAL", "BLOCKER":
		return SeverityCritical
	case "HIGH", "ERROR", "MAJOR":
		return SeverityHigh
	case "MEDIUM", "MODERATE", "WARNING":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Finding is a normalized security issue.
type Finding struct {
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Source      string   `json:"source,omitempty"`
	Code        string   `json:"code,omitempty"`
}

type findingIdentity struct {
	severity Severity
	title    string
	location string
}

// Merge concatenates finding lists, drops duplicates by (severity, title, location)
// keeping the first occurrence, and orders the result by severity then location.
func Merge(findingLists ...[]Finding) []Finding {
	seen := make(map[findingIdentity]struct{})
	merged := make([]Finding, 0)
	for _, findings := range findingLists {
		for _, finding := range findings {
			finding.Severity = ParseSeverity(string(finding.Severity))
			identity := findingIdentity{severity: finding.Severity, title: finding.Title, location: finding.Location}
			if _, duplicate := seen[identity]; duplicate {
				continue
			}
			seen[identity] = struct{}{}
			merged = append(merged, finding)
		}
	}
	sort.SliceStable(merged, func(leftIndex, rightIndex int) bool {
		left, right := merged[leftIndex], merged[rightIndex]
		if severityRanks[left.Severity] != severityRanks[right.Severity] {
			return severityRanks[left.Severity] < severityRanks[right.Severity]
		}
		if left.Location != right.Location {
			return left.Location < right.Location
		}
		return left.Title < right.Title
	})
	return merged
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := map[Severity]int{SeverityCritical: 0, SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0}
	for _, finding := range findings {
		counts[ParseSeverity(string(finding.Severity))]++
	}
	return counts
}
