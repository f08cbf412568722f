package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deployhook/internal/deployment"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run one deployment now",
	Long: `Run the deployment sequence once, in the foreground, without a webhook.

The run is written to the deployment log and the history database exactly
like a webhook-triggered run. The exit status is non-zero unless the run
succeeded.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, warnings, err := loadConfig()
	if err != nil {
		return err
	}

	logger, _, err := setupLogging("", cfg.SlogLevel())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn("Configuration warning", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	trigger := deployment.Trigger{
		Ref:        "refs/heads/" + cfg.Branch,
		Repository: filepath.Base(cfg.ProjectPath),
		Source:     deployment.SourceManual,
		ReceivedAt: time.Now().UTC(),
	}
	if head, err := st.source.Head(ctx); err == nil {
		trigger.Commit = head
	} else {
		logger.Warn("Could not read current commit", "error", err)
	}

	run, err := st.orch.Run(ctx, trigger)
	if errors.Is(err, deployment.ErrRunInProgress) {
		return fmt.Errorf("another deployment is already running")
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, step := range run.Steps {
		fmt.Fprintf(out, "%s  %s\n", step.Timestamp.Format(time.TimeOnly), deployment.FormatStep(step))
	}
	fmt.Fprintf(out, "\nRun %s finished: %s in %s\n", run.ID, run.Outcome, run.Duration().Round(time.Second))
	fmt.Fprintf(out, "Full transcript: %s\n", st.log.Path())

	if run.Outcome != deployment.OutcomeSuccess {
		return fmt.Errorf("deployment %s: %s", run.Outcome, run.Error)
	}
	return nil
}
