package ghapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v57/github"

	"deployhook/internal/deployment"
)

// DefaultStatusContext labels the commit status on GitHub.
const DefaultStatusContext = "deployhook/deploy"

const maxDescription = 140

// CommitStatus reports runs as commit statuses on the pushed commit:
// pending when a run starts, success or failure when it ends. Runs without
// a commit or repository full name are skipped.
type CommitStatus struct {
	client    *github.Client
	context   string
	targetURL string
	logger    *slog.Logger
}

// NewCommitStatus wraps client. targetURL, if set, is linked from the status.
func NewCommitStatus(client *github.Client, targetURL string, logger *slog.Logger) *CommitStatus {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitStatus{
		client:    client,
		context:   DefaultStatusContext,
		targetURL: targetURL,
		logger:    logger,
	}
}

// RunStarted is part of deployment.Reporter.
func (c *CommitStatus) RunStarted(ctx context.Context, run *deployment.Run) {
	c.post(ctx, run, "pending", "Deployment started")
}

// RunFinished is part of deployment.Reporter.
func (c *CommitStatus) RunFinished(ctx context.Context, run *deployment.Run) {
	state, desc := StateForOutcome(run.Outcome)
	c.post(ctx, run, state, fmt.Sprintf("%s in %s", desc, run.Duration().Round(time.Second)))
}

// StateForOutcome maps a run outcome to a GitHub status state and summary.
func StateForOutcome(o deployment.Outcome) (state, description string) {
	switch o {
	case deployment.OutcomeSuccess:
		return "success", "Deployment succeeded"
	case deployment.OutcomeRecovered:
		return "failure", "Deployment failed, containers restarted"
	default:
		return "failure", "Deployment failed"
	}
}

func (c *CommitStatus) post(ctx context.Context, run *deployment.Run, state, description string) {
	sha := run.Trigger.Commit
	if sha == "" || run.Trigger.RepositoryFullName == "" {
		return
	}
	owner, repo, err := SplitRepo(run.Trigger.RepositoryFullName)
	if err != nil {
		c.logger.Warn("skipping commit status", "run_id", run.ID, "error", err)
		return
	}

	if len(description) > maxDescription {
		description = description[:maxDescription]
	}
	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(c.context),
	}
	if c.targetURL != "" {
		status.TargetURL = github.String(c.targetURL)
	}

	if _, _, err := c.client.Repositories.CreateStatus(ctx, owner, repo, sha, status); err != nil {
		c.logger.Warn("failed to post commit status",
			"run_id", run.ID,
			"state", state,
			"error", err,
		)
		return
	}
	c.logger.Debug("posted commit status", "run_id", run.ID, "state", state, "commit", sha)
}
