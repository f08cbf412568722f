package history

import (
	"time"

	"deployhook/internal/deployment"
)

// DeploymentRecord represents a single deployment run in the database
type DeploymentRecord struct {
	ID              int64             `json:"id"`
	RunID           string            `json:"run_id"`
	Source          string            `json:"source"`
	Ref             string            `json:"ref"`
	Repository      string            `json:"repository"`
	Outcome         string            `json:"outcome"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	CommitHash      *string           `json:"commit_hash,omitempty"`
	DeliveryID      *string           `json:"delivery_id,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	Steps           []deployment.Step `json:"steps,omitempty"`
}

// DeploymentStatus is the payload of the status endpoint
type DeploymentStatus struct {
	InProgress        bool               `json:"in_progress"`
	Pending           bool               `json:"pending"`
	ActiveRun         *deployment.Run    `json:"active_run,omitempty"`
	LatestDeployment  *DeploymentRecord  `json:"latest_deployment"`
	RecentDeployments []DeploymentRecord `json:"recent_deployments"`
	OutcomeCounts     map[string]int     `json:"outcome_counts,omitempty"`
}

// RecordFromRun converts a finished run into a database record.
func RecordFromRun(run *deployment.Run) *DeploymentRecord {
	rec := &DeploymentRecord{
		RunID:      run.ID,
		Source:     run.Trigger.Source,
		Ref:        run.Trigger.Ref,
		Repository: run.Trigger.Repository,
		Outcome:    string(run.Outcome),
		StartedAt:  run.StartedAt,
		Steps:      run.Steps,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		rec.CompletedAt = &finished
		d := run.Duration().Seconds()
		rec.DurationSeconds = &d
	}
	if run.Trigger.Commit != "" {
		c := run.Trigger.Commit
		rec.CommitHash = &c
	}
	if run.Trigger.DeliveryID != "" {
		id := run.Trigger.DeliveryID
		rec.DeliveryID = &id
	}
	if run.Error != "" {
		msg := run.Error
		rec.ErrorMessage = &msg
	}
	return rec
}
