// Package event turns an authenticated webhook delivery into a WebhookEvent
// and decides whether it should trigger a deployment.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-github/v57/github"
)

const (
	// PushEvent is the X-GitHub-Event value for branch and tag pushes.
	PushEvent = "push"

	// TargetRef is the only ref that triggers a deployment.
	TargetRef = "refs/heads/main"
)

// ErrInvalidPayload is returned when the body is not a JSON object.
var ErrInvalidPayload = errors.New("invalid JSON payload")

// WebhookEvent is the authenticated, decoded form of one delivery.
// It is built once per request and not modified afterwards.
type WebhookEvent struct {
	SignatureHeader    string
	EventType          string
	DeliveryID         string
	Ref                string
	RepositoryName     string
	RepositoryFullName string
	After              string
	Pusher             string
	RawPayload         []byte
}

// IsPush reports whether the delivery is a push event.
func (e *WebhookEvent) IsPush() bool {
	return e.EventType == PushEvent
}

// Parse decodes body. The push schema is used for every event type: the
// fields the classifier needs (ref, repository) share names across GitHub
// events, and fields absent from other events decode to empty strings.
func Parse(eventType, deliveryID, signature string, body []byte) (*WebhookEvent, error) {
	var push github.PushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ev := &WebhookEvent{
		SignatureHeader:    signature,
		EventType:          eventType,
		DeliveryID:         deliveryID,
		Ref:                push.GetRef(),
		RepositoryName:     push.GetRepo().GetName(),
		RepositoryFullName: push.GetRepo().GetFullName(),
		After:              push.GetAfter(),
		Pusher:             push.GetPusher().GetName(),
		RawPayload:         body,
	}

	return ev, nil
}

// ShouldDeploy is true only for a push to refs/heads/main.
// Matching is exact string equality.
func ShouldDeploy(ev *WebhookEvent) bool {
	if ev == nil {
		return false
	}
	return ev.EventType == PushEvent && ev.Ref == TargetRef
}
