package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shipbox/internal/deploy"
	"shipbox/internal/history"
	"shipbox/internal/plan"
	"shipbox/internal/security"
	"shipbox/internal/target"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB
	RecentRunsLimit = 10
)

// pushEvent is the subset of the GitHub push payload the server cares about.
type pushEvent struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// HandleWebhook handles GitHub push webhook requests for one target.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "targetName")

	if err := security.ValidateTargetName(targetName); err != nil {
		s.Logger.Warn("invalid target name in webhook request", "target", targetName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	tgt, err := s.Registry.Get(targetName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	if tgt.WebhookSecret == "" {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Target has no webhook secret configured"})
		return
	}

	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}
	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}
	if r.Header.Get("X-GitHub-Event") != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("failed to read request body", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !VerifySignature(body, signature, tgt.WebhookSecret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.Logger.Error("failed to parse JSON payload", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if !tgt.MatchesRef(event.Ref) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}

	p, err := deploy.BuildPlan(tgt, s.SourceDir)
	if err != nil {
		s.Logger.Error("failed to build plan", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to build deployment plan"})
		return
	}

	// GitHub webhooks time out after 10 seconds: acknowledge receipt and
	// run the deployment asynchronously. The orchestrator's per-target lock
	// rejects a second run for the same target.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"target":  targetName,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		s.executeDeployment(context.Background(), tgt, p, event)
	}()
}

// executeDeployment runs the deployment and records history.
func (s *Server) executeDeployment(ctx context.Context, tgt *target.Target, p *plan.Plan, event pushEvent) {
	report := s.Orchestrator.Deploy(ctx, tgt, p)

	if s.History != nil && !s.TestMode {
		var commitHash *string
		if event.After != "" {
			commitHash = &event.After
		}

		run, steps := history.FromReport(report, tgt.Branch, event.Ref, commitHash, []string{tgt.WebhookSecret})
		if _, err := s.History.RecordRun(ctx, run); err != nil {
			s.Logger.Error("failed to record run history", "error", err, "target", tgt.Name)
		} else if err := s.History.RecordSteps(ctx, steps); err != nil {
			s.Logger.Error("failed to record step history", "error", err, "target", tgt.Name)
		}
	}

	if report.OK() {
		s.Logger.Info("deployment completed", "target", tgt.Name, "run_id", report.RunID.String(), "status", "success")
	} else {
		s.Logger.Error("deployment failed", "target", tgt.Name, "run_id", report.RunID.String(),
			"error", security.Redact(report.Err.Error(), []string{tgt.WebhookSecret}))
	}
}

// HandleHealth handles health check requests.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"targets":      s.Registry.List(),
		"target_count": s.Registry.Count(),
	})
}

// HandleStatus handles deployment status requests for one target.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "targetName")

	if err := security.ValidateTargetName(targetName); err != nil {
		s.Logger.Warn("invalid target name in status request", "target", targetName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	if _, err := s.Registry.Get(targetName); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	if s.History == nil || s.TestMode {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	latest, err := s.History.LatestRun(r.Context(), targetName)
	if err != nil {
		s.Logger.Error("failed to get latest run", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.History.RunHistory(r.Context(), targetName, RecentRunsLimit)
	if err != nil {
		s.Logger.Error("failed to get run history", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, history.TargetStatus{
		Target:     targetName,
		LatestRun:  latest,
		RecentRuns: recent,
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("failed to encode JSON response", "error", err)
	}
}
