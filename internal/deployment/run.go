package deployment

import (
	"time"

	"deployhook/internal/event"
)

// StepName identifies a stage of the deployment state machine.
type StepName string

const (
	StepStart           StepName = "START"
	StepConfigureVCS    StepName = "CONFIGURE_VCS"
	StepPull            StepName = "PULL"
	StepStopServices    StepName = "STOP_SERVICES"
	StepBuildAndStart   StepName = "BUILD_AND_START"
	StepPruneImages     StepName = "PRUNE_IMAGES"
	StepDone            StepName = "DONE"
	StepStatus          StepName = "STATUS"
	StepRestartServices StepName = "RESTART_SERVICES"
)

// StepOutcome is the result of a single step.
type StepOutcome string

const (
	StepOK   StepOutcome = "ok"
	StepWarn StepOutcome = "warn"
	StepFail StepOutcome = "fail"
)

// Outcome is the final result of a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRecovered Outcome = "failed-with-recovery"
	OutcomeFailed    Outcome = "failed"
)

// Trigger sources
const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
)

// Trigger describes why a run was started.
type Trigger struct {
	Ref                string    `json:"ref"`
	Repository         string    `json:"repository"`
	RepositoryFullName string    `json:"repository_full_name,omitempty"`
	Commit             string    `json:"commit,omitempty"`
	DeliveryID         string    `json:"delivery_id,omitempty"`
	Source             string    `json:"source"`
	ReceivedAt         time.Time `json:"received_at"`
}

// TriggerFromEvent builds the worker's view of an accepted webhook.
func TriggerFromEvent(ev *event.WebhookEvent, receivedAt time.Time) Trigger {
	return Trigger{
		Ref:                ev.Ref,
		Repository:         ev.RepositoryName,
		RepositoryFullName: ev.RepositoryFullName,
		Commit:             ev.After,
		DeliveryID:         ev.DeliveryID,
		Source:             SourceWebhook,
		ReceivedAt:         receivedAt,
	}
}

// Step is one recorded stage of a run.
type Step struct {
	Name      StepName    `json:"name"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
	Outcome   StepOutcome `json:"outcome"`
}

// Run is one end-to-end execution of the redeploy sequence. Only the
// orchestrator appends to it, and it is not modified after FinishedAt is set.
type Run struct {
	ID         string    `json:"id"`
	Trigger    Trigger   `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Steps      []Step    `json:"steps"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`

	stage StepName
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasStep reports whether a step with the given name was recorded.
func (r *Run) HasStep(name StepName) bool {
	for _, s := range r.Steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

// StepNames returns the recorded step names in order.
func (r *Run) StepNames() []StepName {
	names := make([]StepName, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}
