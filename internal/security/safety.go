package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/temirov/repolens/internal/utils"
)

const (
	safetyExecutable = "safety"
	safetyName       = "safety"

	safetyDecodeErrorFormat      = "decode safety report: %w"
	safetyTitleFormat            = "Insecure Dependency: %s (%s)"
	safetyDescriptionFormat      = "Vulnerability in %s version %s. Affected versions: %s. Recommended fix: %s. CVE: %s. Advisory: %s"
	safetyUnknownValue           = "N/A"
	safetyErrorMarker            = "Error"
	safetyStderrErrorFormat      = "safety reported an error: %s"
	jsonArrayOpeningDelimiter    = '['
)

// SafetyDependencyFiles lists dependency manifests in lookup order.
var SafetyDependencyFiles = []string{"requirements.txt", "Pipfile.lock", "pyproject.toml", "Pipfile"}

// SafetyScanner runs the safety dependency-vulnerability checker against the first dependency manifest found.
type SafetyScanner struct {
	Executable string
	Run        CommandRunner
}

type safetyVulnerability struct {
	VulnerabilityID   string `json:"vulnerability_id"`
	PackageName       string `json:"package_name"`
	InstalledVersion  string `json:"analyzed_version"`
	LegacyVersion     string `json:"installed_version"`
	VulnerableSpec    any    `json:"vulnerable_spec"`
	VulnerableVersion string `json:"vulnerable_versions"`
	FixedVersions     any    `json:"fixed_versions"`
	FixedVersion      string `json:"fixed_version"`
	CVE               string `json:"CVE"`
	LegacyCVE         string `json:"cve"`
	Advisory          string `json:"advisory"`
}

type safetyReport struct {
	Vulnerabilities []safetyVulnerability `json:"vulnerabilities"`
}

// Name identifies the scanner.
func (scanner SafetyScanner) Name() string {
	return safetyName
}

// Scan checks the first dependency manifest in the workspace root. Safety exits non-zero
// when vulnerabilities are found, so the exit status is not treated as failure.
func (scanner SafetyScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	if target.WorkspacePath == utils.EmptyString {
		return nil, ErrWorkspaceRequired
	}
	dependencyFile := findDependencyFile(target.WorkspacePath)
	if dependencyFile == utils.EmptyString {
		return nil, nil
	}
	executable := scanner.Executable
	if executable == utils.EmptyString {
		executable = safetyExecutable
	}
	run := scanner.Run
	if run == nil {
		run = ExecCommandRunner
	}
	result, runError := run(ctx, target.WorkspacePath, executable, "check", "--full-report", "--json", "-r", dependencyFile)
	if runError != nil {
		return nil, runError
	}
	if len(bytes.TrimSpace(result.Stdout)) == 0 && bytes.Contains(result.Stderr, []byte(safetyErrorMarker)) {
		return nil, fmt.Errorf(safetyStderrErrorFormat, string(bytes.TrimSpace(result.Stderr)))
	}
	vulnerabilities, decodeError := decodeSafetyReport(result.Stdout)
	if decodeError != nil {
		return nil, fmt.Errorf(safetyDecodeErrorFormat, decodeError)
	}

	location := filepath.Base(dependencyFile)
	findings := make([]Finding, 0, len(vulnerabilities))
	for _, vulnerability := range vulnerabilities {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			Title:    fmt.Sprintf(safetyTitleFormat, orUnknown(vulnerability.PackageName), orUnknown(vulnerability.VulnerabilityID)),
			Location: location,
			Description: fmt.Sprintf(safetyDescriptionFormat,
				orUnknown(vulnerability.PackageName),
				orUnknown(firstNonEmpty(vulnerability.InstalledVersion, vulnerability.LegacyVersion)),
				orUnknown(firstNonEmpty(vulnerability.VulnerableVersion, describe(vulnerability.VulnerableSpec))),
				orUnknown(firstNonEmpty(vulnerability.FixedVersion, describe(vulnerability.FixedVersions))),
				orUnknown(firstNonEmpty(vulnerability.CVE, vulnerability.LegacyCVE)),
				orUnknown(vulnerability.Advisory),
			),
			Source: SourceSafety,
		})
	}
	return findings, nil
}

// decodeSafetyReport accepts both the legacy top-level array and the object with a vulnerabilities list.
func decodeSafetyReport(output []byte) ([]safetyVulnerability, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == jsonArrayOpeningDelimiter {
		var vulnerabilities []safetyVulnerability
		if decodeError := json.Unmarshal(trimmed, &vulnerabilities); decodeError != nil {
			return nil, decodeError
		}
		return vulnerabilities, nil
	}
	var report safetyReport
	if decodeError := json.Unmarshal(trimmed, &report); decodeError != nil {
		return nil, decodeError
	}
	return report.Vulnerabilities, nil
}

func findDependencyFile(workspacePath string) string {
	for _, candidate := range SafetyDependencyFiles {
		candidatePath := filepath.Join(workspacePath, candidate)
		if fileInfo, statError := os.Stat(candidatePath); statError == nil && fileInfo.Mode().IsRegular() {
			return candidatePath
		}
	}
	return utils.EmptyString
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != utils.EmptyString {
			return value
		}
	}
	return utils.EmptyString
}

func orUnknown(value string) string {
	if value == utils.EmptyString {
		return safetyUnknownValue
	}
	return value
}

func describe(value any) string {
	switch typed := value.(type) {
	case nil:
		return utils.EmptyString
	case string:
		return typed
	default:
		encoded, encodeError := json.Marshal(typed)
		if encodeError != nil {
			return utils.EmptyString
		}
		return string(encoded)
	}
}
