package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deployhook/internal/security"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a webhook secret",
	Long: `Print a random 64 character hex secret suitable for WEBHOOK_SECRET and
the GitHub webhook configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}
