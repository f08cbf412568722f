package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deployhook/internal/config"
	"deployhook/internal/ghapi"
)

var registerWebhookCmd = &cobra.Command{
	Use:   "register-webhook OWNER/REPO URL",
	Short: "Create the push webhook on a GitHub repository",
	Long: `Create a push webhook on OWNER/REPO that delivers to URL, signed with
WEBHOOK_SECRET. Requires GITHUB_TOKEN with admin:repo_hook scope. An existing
hook with the same URL is left as it is.

Example:
  deployhook register-webhook flearn-org/flearn https://deploy.example.com/webhook`,
	Args: cobra.ExactArgs(2),
	RunE: runRegisterWebhook,
}

func runRegisterWebhook(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(configFile)
	if err != nil {
		return err
	}
	if cfg.GitHubToken == "" {
		return fmt.Errorf("%s is required to register a webhook", config.EnvGitHubToken)
	}
	if !cfg.SecretConfigured() {
		return fmt.Errorf("%s must be set so GitHub can sign deliveries", config.EnvSecret)
	}

	client := ghapi.NewClient(cmd.Context(), cfg.GitHubToken)
	res, err := ghapi.EnsureWebhook(cmd.Context(), client, args[0], args[1], cfg.Secret)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Created {
		fmt.Fprintf(out, "Created webhook %d on %s\n", res.ID, args[0])
	} else {
		fmt.Fprintf(out, "Webhook for %s already exists on %s (id %d)\n", args[1], args[0], res.ID)
	}
	return nil
}
