package repository

import (
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/temirov/repolens/internal/utils"
)

const (
	protocolHTTP  = "http"
	protocolHTTPS = "https"
	protocolSSH   = "ssh"
	protocolGit   = "git"
	protocolFile  = "file"

	defaultTokenUsername = "git"
)

// Credentials authenticate HTTP(S) remotes. Empty credentials mean anonymous access.
type Credentials struct {
	Username string
	Token    string
}

// authMethod returns basic auth for HTTP(S) endpoints when a token is configured.
// SSH endpoints fall back to go-git's agent-based defaults.
func (credentials Credentials) authMethod(endpoint *transport.Endpoint) transport.AuthMethod {
	if credentials.Token == utils.EmptyString || endpoint == nil {
		return nil
	}
	if endpoint.Protocol != protocolHTTP && endpoint.Protocol != protocolHTTPS {
		return nil
	}
	username := credentials.Username
	if username == utils.EmptyString {
		username = defaultTokenUsername
	}
	return &githttp.BasicAuth{Username: username, Password: credentials.Token}
}

// parseEndpoint validates a repository URL and returns its transport endpoint.
func parseEndpoint(repositoryURL string, allowFileProtocol bool) (*transport.Endpoint, error) {
	if repositoryURL == utils.EmptyString {
		return nil, ErrEmptyURL
	}
	endpoint, endpointError := transport.NewEndpoint(repositoryURL)
	if endpointError != nil {
		return nil, &FetchError{Kind: KindInvalidURL, URL: repositoryURL, Err: endpointError}
	}
	switch endpoint.Protocol {
	case protocolHTTP, protocolHTTPS, protocolSSH, protocolGit:
		if endpoint.Host == utils.EmptyString {
			return nil, ErrUnsupportedProtocol
		}
		return endpoint, nil
	case protocolFile:
		if allowFileProtocol {
			return endpoint, nil
		}
	}
	return nil, ErrUnsupportedProtocol
}
