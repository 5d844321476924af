package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrorKind classifies why a repository could not be fetched.
type ErrorKind string

// Fetch error kinds.
const (
	KindInvalidURL             ErrorKind = "invalid_url"
	KindNetworkUnreachable     ErrorKind = "network_unreachable"
	KindAuthenticationRequired ErrorKind = "authentication_required"
	KindRemoteNotFound         ErrorKind = "remote_not_found"
)

const (
	invalidURLMessageFormat             = "Invalid repository URL %q."
	networkUnreachableMessageFormat     = "Repository %s could not be reached."
	authenticationRequiredMessageFormat = "Repository %s requires authentication."
	remoteNotFoundMessageFormat         = "Repository %s was not found or is empty."
)

var (
	// ErrDestinationExists is returned when the clone destination is already present.
	ErrDestinationExists = errors.New("clone destination already exists")
	// ErrEmptyURL is returned when no repository URL is supplied.
	ErrEmptyURL = errors.New("repository URL is empty")
	// ErrUnsupportedProtocol is returned for URL schemes the fetcher does not serve.
	ErrUnsupportedProtocol = errors.New("unsupported repository protocol")
)

// FetchError is a fatal, display-ready failure to acquire a working copy.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

// Error renders a short sentence suitable for direct display.
func (fetchError *FetchError) Error() string {
	switch fetchError.Kind {
	case KindInvalidURL:
		return fmt.Sprintf(invalidURLMessageFormat, fetchError.URL)
	case KindAuthenticationRequired:
		return fmt.Sprintf(authenticationRequiredMessageFormat, fetchError.URL)
	case KindRemoteNotFound:
		return fmt.Sprintf(remoteNotFoundMessageFormat, fetchError.URL)
	default:
		return fmt.Sprintf(networkUnreachableMessageFormat, fetchError.URL)
	}
}

// Unwrap exposes the underlying cause.
func (fetchError *FetchError) Unwrap() error {
	return fetchError.Err
}

// Classify maps a clone failure onto a FetchError. A nil cause yields nil.
func Classify(repositoryURL string, cause error) *FetchError {
	if cause == nil {
		return nil
	}
	var existing *FetchError
	if errors.As(cause, &existing) {
		return existing
	}
	kind := KindNetworkUnreachable
	switch {
	case errors.Is(cause, ErrEmptyURL),
		errors.Is(cause, ErrUnsupportedProtocol):
		kind = KindInvalidURL
	case errors.Is(cause, transport.ErrAuthenticationRequired),
		errors.Is(cause, transport.ErrAuthorizationFailed),
		errors.Is(cause, transport.ErrInvalidAuthMethod):
		kind = KindAuthenticationRequired
	case errors.Is(cause, transport.ErrRepositoryNotFound),
		errors.Is(cause, transport.ErrEmptyRemoteRepository):
		kind = KindRemoteNotFound
	case errors.Is(cause, context.DeadlineExceeded),
		errors.Is(cause, context.Canceled):
		kind = KindNetworkUnreachable
	}
	return &FetchError{Kind: kind, URL: repositoryURL, Err: cause}
}
