package ghapi

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// HookResult tells whether EnsureWebhook created a hook.
type HookResult struct {
	Created bool
	ID      int64
}

// EnsureWebhook registers a push webhook for url on owner/repo, signed with
// secret. An existing hook with the same URL is left untouched.
func EnsureWebhook(ctx context.Context, client *github.Client, fullName, url, secret string) (HookResult, error) {
	owner, repo, err := SplitRepo(fullName)
	if err != nil {
		return HookResult{}, err
	}

	hooks, _, err := client.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return HookResult{}, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.Config != nil {
			if existing, ok := hook.Config["url"].(string); ok && existing == url {
				return HookResult{ID: hook.GetID()}, nil
			}
		}
	}

	hookConfig := map[string]interface{}{
		"url":          url,
		"content_type": "json",
		"secret":       secret,
		"insecure_ssl": "0",
	}

	active := true
	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: &active,
		Config: hookConfig,
	}

	created, _, err := client.Repositories.CreateHook(ctx, owner, repo, hookReq)
	if err != nil {
		return HookResult{}, fmt.Errorf("creating webhook: %w", err)
	}

	return HookResult{Created: true, ID: created.GetID()}, nil
}
