package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v57/github"

	"deployhook/internal/deployment"
	"deployhook/internal/event"
	"deployhook/internal/history"
)

const (
	MaxPayloadBytes        = 25 << 20 // 25 MB, GitHub's own cap
	RecentDeploymentsLimit = 10       // Number of recent deployments to return in status endpoint
)

// Webhook results, as counted in metrics
const (
	resultInitiated        = "initiated"
	resultCoalesced        = "coalesced"
	resultIgnored          = "ignored"
	resultInvalidSignature = "invalid_signature"
	resultInvalidPayload   = "invalid_payload"
	resultRateLimited      = "rate_limited"
	resultRejected         = "rejected"
)

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	// ContentLength can be -1 if not set; MaxBytesReader covers that case
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	// Verify signature over the exact bytes received
	signature := r.Header.Get(HeaderSignature)
	if !VerifySignature(body, signature, s.secret) {
		s.Logger.Warn("Invalid signature", "delivery", github.DeliveryID(r), "has_signature", signature != "")
		s.countWebhook(resultInvalidSignature)
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	ev, err := event.Parse(github.WebHookType(r), github.DeliveryID(r), signature, payloadJSON(r.Header.Get("Content-Type"), body))
	if err != nil {
		s.Logger.Warn("Failed to parse JSON payload", "error", err, "delivery", github.DeliveryID(r))
		s.countWebhook(resultInvalidPayload)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if !event.ShouldDeploy(ev) {
		s.Logger.Info("Event ignored",
			"event", ev.EventType,
			"ref", ev.Ref,
			"repository", ev.RepositoryName,
			"delivery", ev.DeliveryID)
		s.countWebhook(resultIgnored)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Event ignored"})
		return
	}

	result := s.dispatcher.Submit(deployment.TriggerFromEvent(ev, time.Now().UTC()))
	if result == deployment.Rejected {
		s.Logger.Warn("Deployment rejected, service shutting down", "delivery", ev.DeliveryID)
		s.countWebhook(resultRejected)
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service shutting down"})
		return
	}

	s.Logger.Info("Deployment initiated",
		"ref", ev.Ref,
		"repository", ev.RepositoryName,
		"commit", ev.After,
		"pusher", ev.Pusher,
		"delivery", ev.DeliveryID,
		"dispatch", result.String())
	if result == deployment.Coalesced {
		s.countWebhook(resultCoalesced)
	} else {
		s.countWebhook(resultInitiated)
	}

	s.respondJSON(w, http.StatusOK, initiatedResponse{
		Message:    "Deployment initiated",
		Ref:        ev.Ref,
		Repository: ev.RepositoryName,
	})
}

// initiatedResponse omits the repository when the payload had none.
type initiatedResponse struct {
	Message    string `json:"message"`
	Ref        string `json:"ref"`
	Repository string `json:"repository,omitempty"`
}

// payloadJSON extracts the JSON document from a form-encoded delivery.
// Hooks configured with content type "application/json" send it as is.
func payloadJSON(contentType string, body []byte) []byte {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return body
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return body
	}
	return []byte(form.Get("payload"))
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"service": s.serviceName,
	})
}

// HandleStatus reports the in-flight run and recent history
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := history.DeploymentStatus{
		InProgress:        s.dispatcher.Busy(),
		Pending:           s.dispatcher.Pending(),
		ActiveRun:         s.dispatcher.Active(),
		RecentDeployments: []history.DeploymentRecord{},
	}

	if s.history != nil {
		latest, err := s.history.GetLatestDeployment(r.Context())
		if err != nil {
			s.Logger.Error("Failed to get latest deployment", "error", err)
			s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
			return
		}

		recent, err := s.history.GetDeploymentHistory(r.Context(), RecentDeploymentsLimit)
		if err != nil {
			s.Logger.Error("Failed to get deployment history", "error", err)
			s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
			return
		}

		counts, err := s.history.CountByOutcome(r.Context())
		if err != nil {
			s.Logger.Error("Failed to count deployments", "error", err)
			s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
			return
		}

		status.LatestDeployment = latest
		status.RecentDeployments = recent
		status.OutcomeCounts = counts
	}

	s.respondJSON(w, http.StatusOK, status)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
