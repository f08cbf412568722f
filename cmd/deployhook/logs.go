package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deployhook/internal/deploylog"
)

var logLines int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the end of the deployment log",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	lines, err := deploylog.New(cfg.DeploymentLogPath()).Tail(logLines)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	return nil
}
