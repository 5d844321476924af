// Package repository acquires working copies of remote repositories and
// probes their current revision.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout = 5 * time.Minute

	destinationCheckErrorFormat = "check clone destination %s: %w"
	fetchStartedLogMessage      = "cloning repository"
	fetchFinishedLogMessage     = "cloned repository"
	fetchFailedLogMessage       = "repository clone failed"
	cleanupFailedLogMessage     = "failed to remove partial clone"
)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Timeout bounds a single clone. Defaults to five minutes.
	Timeout time.Duration
	// Depth limits history; zero clones the full default branch history.
	Depth int
	// Credentials authenticate HTTP(S) remotes.
	Credentials Credentials
	// AllowFileProtocol permits local file:// and path URLs.
	AllowFileProtocol bool
	Logger            *zap.Logger
}

// Fetcher clones the default branch of a remote repository into a new directory.
type Fetcher struct {
	options FetcherOptions
	logger  *zap.Logger
}

// NewFetcher constructs a Fetcher.
func NewFetcher(options FetcherOptions) *Fetcher {
	if options.Timeout <= 0 {
		options.Timeout = defaultFetchTimeout
	}
	if options.Depth < 0 {
		options.Depth = 0
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{options: options, logger: logger}
}

// Fetch clones repositoryURL into destination, which must not exist.
// Failures are returned as *FetchError, except ErrDestinationExists which signals a caller error.
// A partially written destination is removed before returning.
func (fetcher *Fetcher) Fetch(ctx context.Context, repositoryURL string, destination string) error {
	endpoint, endpointError := parseEndpoint(repositoryURL, fetcher.options.AllowFileProtocol)
	if endpointError != nil {
		return Classify(repositoryURL, endpointError)
	}

	if _, statError := os.Lstat(destination); statError == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, destination)
	} else if !errors.Is(statError, fs.ErrNotExist) {
		return fmt.Errorf(destinationCheckErrorFormat, destination, statError)
	}

	fetchContext, cancel := context.WithTimeout(ctx, fetcher.options.Timeout)
	defer cancel()

	startedAt := time.Now()
	fetcher.logger.Debug(fetchStartedLogMessage, zap.String("url", repositoryURL), zap.String("destination", destination))
	_, cloneError := git.PlainCloneContext(fetchContext, destination, false, &git.CloneOptions{
		URL:          repositoryURL,
		Auth:         fetcher.options.Credentials.authMethod(endpoint),
		SingleBranch: true,
		Depth:        fetcher.options.Depth,
		Tags:         git.NoTags,
	})
	if cloneError != nil {
		if removeError := os.RemoveAll(destination); removeError != nil {
			fetcher.logger.Warn(cleanupFailedLogMessage, zap.String("destination", destination), zap.Error(removeError))
		}
		classified := Classify(repositoryURL, cloneError)
		fetcher.logger.Warn(fetchFailedLogMessage,
			zap.String("url", repositoryURL),
			zap.String("kind", string(classified.Kind)),
			zap.Error(cloneError),
		)
		return classified
	}

	fetcher.logger.Info(fetchFinishedLogMessage,
		zap.String("url", repositoryURL),
		zap.Duration("duration", time.Since(startedAt)),
	)
	return nil
}
