package security

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/temirov/repolens/internal/utils"
)

const (
	banditExecutable = "bandit"
	banditName       = "bandit"

	banditExitIssuesFound = 1

	banditExitErrorFormat   = "bandit exited with status %d: %s"
	banditDecodeErrorFormat = "decode bandit report: %w"
)

// BanditScanner runs the bandit Python vulnerability linter.
type BanditScanner struct {
	Executable string
	Run        CommandRunner
}

type banditReport struct {
	Results []banditResult `json:"results"`
}

type banditResult struct {
	Filename        string `json:"filename"`
	LineNumber      int    `json:"line_number"`
	TestID          string `json:"test_id"`
	TestName        string `json:"test_name"`
	IssueText       string `json:"issue_text"`
	IssueSeverity   string `json:"issue_severity"`
	IssueConfidence string `json:"issue_confidence"`
	Code            string `json:"code"`
}

// Name identifies the scanner.
func (scanner BanditScanner) Name() string {
	return banditName
}

// Scan runs bandit recursively over the workspace. Bandit exits with status 1
// when it reports issues; that is a successful scan.
func (scanner BanditScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	if target.WorkspacePath == utils.EmptyString {
		return nil, ErrWorkspaceRequired
	}
	executable := scanner.Executable
	if executable == utils.EmptyString {
		executable = banditExecutable
	}
	run := scanner.Run
	if run == nil {
		run = ExecCommandRunner
	}
	result, runError := run(ctx, target.WorkspacePath, executable, "-r", ".", "-f", "json", "-q")
	if runError != nil {
		return nil, runError
	}
	if result.ExitCode != 0 && result.ExitCode != banditExitIssuesFound {
		return nil, fmt.Errorf(banditExitErrorFormat, result.ExitCode, string(result.Stderr))
	}
	var report banditReport
	if decodeError := json.Unmarshal(result.Stdout, &report); decodeError != nil {
		return nil, fmt.Errorf(banditDecodeErrorFormat, decodeError)
	}

	findings := make([]Finding, 0, len(report.Results))
	for _, issue := range report.Results {
		findings = append(findings, Finding{
			Severity:    ParseSeverity(issue.IssueSeverity),
			Title:       issue.TestName,
			Location:    relativeLocation(target.WorkspacePath, issue.Filename) + ":" + strconv.Itoa(issue.LineNumber),
			Description: issue.IssueText,
			Source:      SourceBandit,
			Code:        issue.Code,
		})
	}
	return findings, nil
}

// relativeLocation renders a tool-reported path relative to the workspace with forward slashes.
func relativeLocation(workspacePath string, reportedPath string) string {
	if !filepath.IsAbs(reportedPath) {
		return filepath.ToSlash(filepath.Clean(reportedPath))
	}
	relativePath, relativeError := filepath.Rel(workspacePath, reportedPath)
	if relativeError != nil {
		return filepath.ToSlash(reportedPath)
	}
	return filepath.ToSlash(relativePath)
}
