package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"deployhook/internal/deployment"
	"deployhook/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "List recent deployments",
	Long: `List recent deployment runs recorded in the history database, newest first.
With a RUN_ID, show that run step by step.`,
	Args: cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of deployments to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	hist, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer hist.Close()

	if len(args) == 1 {
		return showRun(cmd, hist, args[0])
	}

	records, err := hist.GetDeploymentHistory(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No deployments recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tSOURCE\tCOMMIT\tDURATION\tRUN")
	for _, r := range records {
		commit := "-"
		if r.CommitHash != nil {
			commit = *r.CommitHash
			if len(commit) > 7 {
				commit = commit[:7]
			}
		}
		duration := "-"
		if r.DurationSeconds != nil {
			duration = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Outcome, r.Source, commit, duration, r.RunID)
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, hist *history.History, runID string) error {
	rec, err := hist.GetDeployment(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no deployment with run ID %s", runID)
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
	fmt.Fprintf(out, "Source:   %s\n", rec.Source)
	fmt.Fprintf(out, "Ref:      %s\n", rec.Ref)
	fmt.Fprintf(out, "Outcome:  %s\n", rec.Outcome)
	fmt.Fprintf(out, "Started:  %s\n", rec.StartedAt.Local().Format(time.DateTime))
	if rec.ErrorMessage != nil {
		fmt.Fprintf(out, "Error:    %s\n", *rec.ErrorMessage)
	}
	fmt.Fprintln(out)
	for _, step := range rec.Steps {
		fmt.Fprintf(out, "%s  %s\n", step.Timestamp.Local().Format(time.TimeOnly), deployment.FormatStep(step))
	}
	return nil
}
