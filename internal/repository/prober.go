package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// SentinelRevision stands in for the remote revision whenever probing fails.
const SentinelRevision = "latest"

const (
	maximumProbeTimeout = 5 * time.Second
	probeRemoteName     = "origin"

	mainBranchReference   = plumbing.ReferenceName("refs/heads/main")
	masterBranchReference = plumbing.ReferenceName("refs/heads/master")

	probeDegradedLogMessage = "revision probe degraded to sentinel"
)

// ErrHeadUnresolved is returned when a listing advertises no usable HEAD.
var ErrHeadUnresolved = errors.New("remote HEAD could not be resolved")

// RemoteLister lists the references advertised by a remote without downloading content.
type RemoteLister func(ctx context.Context, repositoryURL string) ([]*plumbing.Reference, error)

// ProberOptions configures a Prober.
type ProberOptions struct {
	// Timeout bounds a single probe. Values above five seconds are capped.
	Timeout time.Duration
	// Credentials authenticate HTTP(S) remotes.
	Credentials Credentials
	// AllowFileProtocol permits local file:// and path URLs.
	AllowFileProtocol bool
	// Lister replaces the go-git ls-remote implementation.
	Lister RemoteLister
	Logger *zap.Logger
}

// Prober resolves the revision a remote's HEAD points at.
type Prober struct {
	timeout time.Duration
	lister  RemoteLister
	logger  *zap.Logger
}

// NewProber constructs a Prober.
func NewProber(options ProberOptions) *Prober {
	timeout := options.Timeout
	if timeout <= 0 || timeout > maximumProbeTimeout {
		timeout = maximumProbeTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lister := options.Lister
	if lister == nil {
		lister = newGitLister(options.Credentials, options.AllowFileProtocol)
	}
	return &Prober{timeout: timeout, lister: lister, logger: logger}
}

// Probe returns the remote HEAD revision, or SentinelRevision on any failure.
func (prober *Prober) Probe(ctx context.Context, repositoryURL string) string {
	revision, resolveError := prober.Resolve(ctx, repositoryURL)
	if resolveError != nil {
		prober.logger.Warn(probeDegradedLogMessage, zap.String("url", repositoryURL), zap.Error(resolveError))
		return SentinelRevision
	}
	return revision
}

// Resolve returns the remote HEAD revision or the reason it could not be determined.
func (prober *Prober) Resolve(ctx context.Context, repositoryURL string) (string, error) {
	probeContext, cancel := context.WithTimeout(ctx, prober.timeout)
	defer cancel()

	type listing struct {
		references []*plumbing.Reference
		err        error
	}
	listingChannel := make(chan listing, 1)
	go func() {
		references, listError := prober.lister(probeContext, repositoryURL)
		listingChannel <- listing{references: references, err: listError}
	}()

	select {
	case <-probeContext.Done():
		return "", probeContext.Err()
	case result := <-listingChannel:
		if result.err != nil {
			return "", result.err
		}
		return resolveHead(result.references)
	}
}

// resolveHead picks the revision HEAD refers to. A symbolic HEAD resolves to
// its target, a detached HEAD to its hash; otherwise main and then master are tried.
func resolveHead(references []*plumbing.Reference) (string, error) {
	referencesByName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(references))
	for _, reference := range references {
		if reference == nil {
			continue
		}
		referencesByName[reference.Name()] = reference
	}

	if head, exists := referencesByName[plumbing.HEAD]; exists {
		switch head.Type() {
		case plumbing.HashReference:
			if !head.Hash().IsZero() {
				return head.Hash().String(), nil
			}
		case plumbing.SymbolicReference:
			if target, targetExists := referencesByName[head.Target()]; targetExists &&
				target.Type() == plumbing.HashReference && !target.Hash().IsZero() {
				return target.Hash().String(), nil
			}
		}
	}

	for _, branchName := range []plumbing.ReferenceName{mainBranchReference, masterBranchReference} {
		if branch, exists := referencesByName[branchName]; exists &&
			branch.Type() == plumbing.HashReference && !branch.Hash().IsZero() {
			return branch.Hash().String(), nil
		}
	}
	return "", ErrHeadUnresolved
}

func newGitLister(credentials Credentials, allowFileProtocol bool) RemoteLister {
	return func(ctx context.Context, repositoryURL string) ([]*plumbing.Reference, error) {
		endpoint, endpointError := parseEndpoint(repositoryURL, allowFileProtocol)
		if endpointError != nil {
			return nil, endpointError
		}
		remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
			Name: probeRemoteName,
			URLs: []string{repositoryURL},
		})
		return remote.ListContext(ctx, &git.ListOptions{Auth: credentials.authMethod(endpoint)})
	}
}
