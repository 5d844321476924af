package security

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/repolens/internal/types"
)

var (
	// ErrWorkspaceRequired is returned by scanners that read the working copy when none is available.
	ErrWorkspaceRequired = errors.New("security scan requires a workspace")
	// ErrContextRequired is returned by scanners that read serialized records when none are available.
	ErrContextRequired = errors.New("security scan requires an ingested context")
)

const (
	scannerUnavailableMessage = "security scanner unavailable, skipping"
	scannerFailedMessage      = "security scanner failed"
	scannerCompletedMessage   = "security scanner completed"
	scannerLogFieldName       = "scanner"
	findingsLogFieldName      = "findings"
)

// Target is what a scan runs against.
type Target struct {
	WorkspacePath string
	Context       *types.IngestedContext
}

// Scanner produces findings for a target.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, target Target) ([]Finding, error)
}

// Runner executes scanners concurrently and merges their findings.
type Runner struct {
	scanners []Scanner
	logger   *zap.Logger
}

// NewRunner builds a runner over the provided scanners.
func NewRunner(logger *zap.Logger, scanners ...Scanner) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{scanners: scanners, logger: logger}
}

// Run executes every scanner. Unavailable tools and tool failures contribute no findings;
// only cancellation of ctx is reported as an error.
func (runner *Runner) Run(ctx context.Context, target Target) ([]Finding, error) {
	results := make([][]Finding, len(runner.scanners))
	group, groupContext := errgroup.WithContext(ctx)
	for scannerIndex, scanner := range runner.scanners {
		group.Go(func() error {
			findings, scanError := scanner.Scan(groupContext, target)
			switch {
			case scanError == nil:
				runner.logger.Debug(scannerCompletedMessage, zap.String(scannerLogFieldName, scanner.Name()), zap.Int(findingsLogFieldName, len(findings)))
				results[scannerIndex] = findings
			case errors.Is(scanError, ErrToolUnavailable):
				runner.logger.Warn(scannerUnavailableMessage, zap.String(scannerLogFieldName, scanner.Name()), zap.Error(scanError))
			default:
				if contextError := groupContext.Err(); contextError != nil {
					return contextError
				}
				runner.logger.Warn(scannerFailedMessage, zap.String(scannerLogFieldName, scanner.Name()), zap.Error(scanError))
			}
			return nil
		})
	}
	if waitError := group.Wait(); waitError != nil {
		return nil, waitError
	}
	return Merge(results...), nil
}
