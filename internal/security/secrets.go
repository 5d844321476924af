package security

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

const (
	secretScannerName       = "gitleaks"
	secretTitleFormat       = "Secret Found: %s"
	secretDescriptionFormat = "Potential %s detected. Rotate the credential and remove it from history."
	secretDetectorErrorFmt  = "create gitleaks detector: %w"
)

// SecretScanner searches every ingested record with the gitleaks default rule set.
// The detector is built once and shared; gitleaks detectors keep per-scan state, so scans are serialized.
type SecretScanner struct {
	initializeOnce  sync.Once
	initializeError error
	detector        *detect.Detector
	scanMutex       sync.Mutex
}

// NewSecretScanner returns a lazily initialized gitleaks scanner.
func NewSecretScanner() *SecretScanner {
	return &SecretScanner{}
}

// Name identifies the scanner.
func (scanner *SecretScanner) Name() string {
	return secretScannerName
}

// Scan reports one finding per detected secret. The secret value is never copied into the finding.
func (scanner *SecretScanner) Scan(ctx context.Context, target Target) ([]Finding, error) {
	if target.Context == nil {
		return nil, ErrContextRequired
	}
	scanner.initializeOnce.Do(func() {
		detector, detectorError := detect.NewDetectorDefaultConfig()
		if detectorError != nil {
			scanner.initializeError = fmt.Errorf(secretDetectorErrorFmt, detectorError)
			return
		}
		scanner.detector = detector
	})
	if scanner.initializeError != nil {
		return nil, scanner.initializeError
	}

	scanner.scanMutex.Lock()
	defer scanner.scanMutex.Unlock()

	findings := make([]Finding, 0)
	for _, record := range target.Context.Files {
		if contextError := ctx.Err(); contextError != nil {
			return nil, contextError
		}
		for _, detected := range scanner.detector.DetectString(record.Content) {
			findings = append(findings, Finding{
				Severity:    SeverityCritical,
				Title:       fmt.Sprintf(secretTitleFormat, detected.RuleID),
				Location:    record.Path + ":" + strconv.Itoa(lineOf(record.Content, detected.Match, detected.StartLine)),
				Description: fmt.Sprintf(secretDescriptionFormat, detected.Description),
				Source:      SourceGitleaks,
			})
		}
	}
	return findings, nil
}

// lineOf returns the 1-based line of the first occurrence of match, falling back to the detector's line.
func lineOf(content string, match string, reportedLine int) int {
	if match != "" {
		if matchIndex := strings.Index(content, match); matchIndex >= 0 {
			return strings.Count(content[:matchIndex], "\n") + 1
		}
	}
	if reportedLine < 1 {
		return 1
	}
	return reportedLine
}
