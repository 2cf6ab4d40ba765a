package deploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/runctx"
)

// RemotePreflight verifies that the deployment target exists on GitHub
// before any local mutation happens.
type RemotePreflight struct {
	client *github.Client
	log    *logging.Logger
	owner  string
	repo   string
}

// NewRemotePreflight builds a preflight check for remoteURL. token may be
// empty for public repositories.
func NewRemotePreflight(remoteURL, token string, log *logging.Logger) (*RemotePreflight, error) {
	owner, repo, err := ParseRemote(remoteURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}

	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(context.Background(),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	return &RemotePreflight{
		client: github.NewClient(httpClient),
		log:    log,
		owner:  owner,
		repo:   repo,
	}, nil
}

// WithClient swaps the GitHub client, for tests pointing at a stub server.
func (p *RemotePreflight) WithClient(client *github.Client) *RemotePreflight {
	p.client = client
	return p
}

// Check queries the GitHub API for the target repository.
func (p *RemotePreflight) Check(ctx context.Context, rc *runctx.Context) error {
	repository, _, err := p.client.Repositories.Get(ctx, p.owner, p.repo)
	if err != nil {
		return fmt.Errorf("remote %s/%s not reachable: %w", p.owner, p.repo, err)
	}
	p.log.Info(runctx.Into(ctx, rc), "remote verified",
		zap.String("repo", repository.GetFullName()),
		zap.String("default_branch", repository.GetDefaultBranch()))
	return nil
}

// ParseRemote extracts owner and repository name from a GitHub remote URL.
// Supported forms: https://github.com/owner/repo(.git),
// git@github.com:owner/repo(.git), ssh://git@github.com/owner/repo(.git).
func ParseRemote(remoteURL string) (owner, repo string, err error) {
	s := strings.TrimSuffix(remoteURL, ".git")

	var path string
	switch {
	case strings.HasPrefix(s, "https://github.com/"):
		path = strings.TrimPrefix(s, "https://github.com/")
	case strings.HasPrefix(s, "ssh://git@github.com/"):
		path = strings.TrimPrefix(s, "ssh://git@github.com/")
	case strings.HasPrefix(s, "git@github.com:"):
		path = strings.TrimPrefix(s, "git@github.com:")
	default:
		return "", "", fmt.Errorf("unsupported remote URL %q", remoteURL)
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("remote URL %q is not owner/repo shaped", remoteURL)
	}
	return parts[0], parts[1], nil
}
