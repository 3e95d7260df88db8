// Package gh resolves repository metadata from GitHub so history records
// can carry the exact commit a run deployed.
package gh

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client is a thin wrapper over the GitHub API.
type Client struct {
	gh *github.Client
}

// NewClient creates a client. An empty token yields an unauthenticated
// client, which is enough for public repositories.
func NewClient(ctx context.Context, token string) *Client {
	if token == "" {
		return &Client{gh: github.NewClient(nil)}
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Client{gh: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// HeadCommit returns the SHA at the tip of a branch. repo is "owner/name".
func (c *Client) HeadCommit(ctx context.Context, repo, branch string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	b, _, err := c.gh.Repositories.GetBranch(ctx, owner, name, branch, 1)
	if err != nil {
		return "", fmt.Errorf("failed to resolve head of %s@%s: %w", repo, branch, err)
	}
	if b.Commit == nil || b.Commit.SHA == nil {
		return "", fmt.Errorf("branch %s of %s has no commit", branch, repo)
	}

	return b.Commit.GetSHA(), nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	return parts[0], parts[1], nil
}
