package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/temirov/repolens/internal/utils"
)

// ErrNoIssuesPayload is returned when a model reply carries no JSON object.
var ErrNoIssuesPayload = errors.New("model reply does not contain an issues object")

const (
	llmDecodeErrorFormat     = "decode model findings: %w"
	jsonObjectOpeningBracket = "{"
	jsonObjectClosingBracket = "}"
)

type llmIssue struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

type llmIssuesPayload struct {
	Issues []llmIssue `json:"issues"`
}

// ParseLLMFindings extracts the {"issues": [...]} object from a model reply, tolerating
// surrounding prose and markdown code fences, and normalizes every issue.
func ParseLLMFindings(reply string) ([]Finding, error) {
	payload := utils.StripCodeFences(reply)
	openingIndex := strings.Index(payload, jsonObjectOpeningBracket)
	closingIndex := strings.LastIndex(payload, jsonObjectClosingBracket)
	if openingIndex < 0 || closingIndex < openingIndex {
		return nil, ErrNoIssuesPayload
	}
	var decoded llmIssuesPayload
	if decodeError := json.Unmarshal([]byte(payload[openingIndex:closingIndex+1]), &decoded); decodeError != nil {
		return nil, fmt.Errorf(llmDecodeErrorFormat, decodeError)
	}
	findings := make([]Finding, 0, len(decoded.Issues))
	for _, issue := range decoded.Issues {
		findings = append(findings, Finding{
			Severity:    ParseSeverity(issue.Severity),
			Title:       strings.TrimSpace(issue.Title),
			Location:    strings.TrimSpace(issue.Location),
			Description: strings.TrimSpace(issue.Description),
			Source:      SourceAI,
			Code:        issue.Code,
		})
	}
	return findings, nil
}
