// Package ghapi talks to the GitHub REST API: commit statuses for
// deployment runs and registration of the push webhook.
package ghapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// NewClient creates an authenticated GitHub client, or nil without a token.
func NewClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return nil
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return github.NewClient(tc)
}

// SplitRepo splits "owner/repo".
func SplitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", fullName)
	}
	return parts[0], parts[1], nil
}
