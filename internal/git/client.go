// Package git wraps the go-git operations the orchestrator needs: ref
// resolution helpers, authenticated fetches, and shallow-history deepening.
package git

import (
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	crssh "golang.org/x/crypto/ssh"

	"github.com/hashicorp/go-hclog"

	"github.com/diffscan-io/diffscan/pkg/shared/config"
	"github.com/diffscan-io/diffscan/pkg/shared/files"
)

// Client carries authentication and timeout settings for remote operations.
type Client struct {
	logger  hclog.Logger
	auth    transport.AuthMethod
	timeout time.Duration
}

// Authenticator defines an interface for different authentication methods.
type Authenticator interface {
	SetupAuth(cfg *config.GitClient, logger hclog.Logger) (transport.AuthMethod, error)
}

// SSHKeyAuthenticator provides SSH key-based authentication.
type SSHKeyAuthenticator struct{}

// SSHAgentAuthenticator provides SSH agent-based authentication.
type SSHAgentAuthenticator struct{}

// HTTPAuthenticator provides HTTP basic authentication. The token comes from
// the DIFFSCAN_GIT_TOKEN environment variable, never from the config file.
type HTTPAuthenticator struct{}

// NoAuthenticator performs unauthenticated operations, the common case for
// CI checkouts whose remote already embeds credentials.
type NoAuthenticator struct{}

// SetupAuth configures SSH key authentication.
func (s *SSHKeyAuthenticator) SetupAuth(cfg *config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH key authentication")

	sshKeyPath, err := files.ExpandPath(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand SSH key path %q: %w", cfg.SSHKeyPath, err)
	}
	if err := files.ValidatePath(sshKeyPath); err != nil {
		return nil, fmt.Errorf("invalid SSH key path: %w", err)
	}

	auth, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, os.Getenv("DIFFSCAN_SSH_KEY_PASSWORD"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up SSH key authentication: %w", err)
	}

	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{
		HostKeyCallback: crssh.InsecureIgnoreHostKey(), // TODO: known_hosts verification
	}

	return auth, nil
}

// SetupAuth configures SSH agent authentication.
func (s *SSHAgentAuthenticator) SetupAuth(cfg *config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up SSH agent authentication")

	auth, err := ssh.NewSSHAgentAuth("git")
	if err != nil {
		return nil, fmt.Errorf("failed to set up SSH agent authentication: %w", err)
	}

	auth.HostKeyCallbackHelper = ssh.HostKeyCallbackHelper{
		HostKeyCallback: crssh.InsecureIgnoreHostKey(), // TODO: known_hosts verification
	}

	return auth, nil
}

// SetupAuth configures HTTP basic authentication.
func (h *HTTPAuthenticator) SetupAuth(cfg *config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	logger.Debug("setting up HTTP authentication")

	token := os.Getenv("DIFFSCAN_GIT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DIFFSCAN_GIT_TOKEN must be set for http authentication")
	}

	return &http.BasicAuth{
		Username: cfg.Username,
		Password: token,
	}, nil
}

// SetupAuth returns no authentication method.
func (n *NoAuthenticator) SetupAuth(cfg *config.GitClient, logger hclog.Logger) (transport.AuthMethod, error) {
	return nil, nil
}

// getAuthenticator returns the appropriate Authenticator based on the authentication type.
func getAuthenticator(authType string) (Authenticator, error) {
	switch authType {
	case "ssh-key":
		return &SSHKeyAuthenticator{}, nil
	case "ssh-agent":
		return &SSHAgentAuthenticator{}, nil
	case "http":
		return &HTTPAuthenticator{}, nil
	case "none", "":
		return &NoAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", authType)
	}
}

// New initializes a Client from the git_client configuration.
func New(logger hclog.Logger, cfg *config.GitClient) (*Client, error) {
	authenticator, err := getAuthenticator(cfg.AuthType)
	if err != nil {
		return nil, fmt.Errorf("unsupported authentication type: %w", err)
	}

	auth, err := authenticator.SetupAuth(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up git authentication: %w", err)
	}

	return &Client{
		logger:  logger,
		auth:    auth,
		timeout: config.SetThen(cfg.FetchTimeout, 10*time.Minute),
	}, nil
}

// Auth exposes the configured transport auth for fetch options.
func (c *Client) Auth() transport.AuthMethod { return c.auth }

// Timeout exposes the fetch timeout bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Logger exposes the client logger.
func (c *Client) Logger() hclog.Logger { return c.logger }
