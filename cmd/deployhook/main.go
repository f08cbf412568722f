package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var configFile string

var rootCmd = &cobra.Command{
	Use:   "deployhook",
	Short: "GitHub push webhook that redeploys a docker compose stack",
	Long: `Deployhook receives GitHub push webhooks and redeploys the application stack.

A push to refs/heads/main pulls the checkout, rebuilds the managed compose
services one by one and restarts them if anything fails along the way.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Set custom usage template to encourage 'help' subcommand pattern
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to deployhook.yaml (default: $WEBHOOK_CONFIG_FILE or the standard locations)")

	// Register subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(registerWebhookCmd)
	rootCmd.AddCommand(versionCmd)
}
