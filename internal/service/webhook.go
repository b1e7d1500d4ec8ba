package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/calebhart/stagesync/internal/adapter/otel"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/middleware"
)

// WebhookIngestor authenticates and routes inbound webhooks from the
// remote backend. Signature verification runs in relaxed mode: a
// missing signature is let through with a warning so that older remote
// deployments keep working, but a present signature must match.
type WebhookIngestor struct {
	projects *ProjectManagerService
	secret   string
	logger   *slog.Logger
	metrics  *otel.Metrics
}

// NewWebhookIngestor creates a new WebhookIngestor.
func NewWebhookIngestor(projects *ProjectManagerService, secret string, logger *slog.Logger) *WebhookIngestor {
	return &WebhookIngestor{projects: projects, secret: secret, logger: logger}
}

// SetMetrics sets the optional metric instruments.
func (s *WebhookIngestor) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// webhookEnvelope carries the event name; per-event fields are decoded
// from the raw body by the handler for that event.
type webhookEnvelope struct {
	Event string `json:"event"`
}

type approvalUpdatedPayload struct {
	ApprovalID string `json:"approval_id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	Feedback   string `json:"client_feedback"`
}

type stageChangedPayload struct {
	ProjectID string `json:"project_id"`
	StageName string `json:"stage_name"`
}

// Handle verifies the signature over the raw body and dispatches by
// event name. Unknown events are acknowledged and dropped so the remote
// side can grow its vocabulary without breaking this service.
func (s *WebhookIngestor) Handle(ctx context.Context, body []byte, signature string) error {
	if s.metrics != nil {
		s.metrics.WebhooksReceived.Add(ctx, 1)
	}

	switch {
	case signature == "":
		s.logger.Warn("webhook arrived without signature, processing anyway")
	case !middleware.VerifyHMAC(body, signature, s.secret):
		if s.metrics != nil {
			s.metrics.WebhooksRejected.Add(ctx, 1)
		}
		return domain.ErrAuthenticationFailed
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decode webhook envelope: %v", domain.ErrParse, err)
	}

	ctx, span := otel.StartWebhookSpan(ctx, env.Event)
	defer span.End()

	switch env.Event {
	case "project.created":
		return s.handleProjectCreated(ctx, body)
	case "approval.updated":
		return s.handleApprovalUpdated(ctx, body)
	case "project.stage_changed":
		return s.handleStageChanged(ctx, body)
	default:
		s.logger.Info("unknown webhook event ignored", "event", env.Event)
		return nil
	}
}

func (s *WebhookIngestor) handleProjectCreated(ctx context.Context, body []byte) error {
	var req delivery.CreateProjectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: decode project.created: %v", domain.ErrParse, err)
	}
	if req.ProjectID == "" {
		return fmt.Errorf("%w: project.created missing project_id", domain.ErrParse)
	}
	if req.ProjectNumber == "" {
		return fmt.Errorf("%w: project.created missing project_number", domain.ErrParse)
	}
	if req.CompanyName == "" {
		return fmt.Errorf("%w: project.created missing company_name", domain.ErrParse)
	}
	if req.WizardCompletionID == "" {
		return fmt.Errorf("%w: project.created missing wizard_completion_id", domain.ErrParse)
	}

	_, err := s.projects.Create(ctx, req)
	return err
}

func (s *WebhookIngestor) handleApprovalUpdated(ctx context.Context, body []byte) error {
	var p approvalUpdatedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("%w: decode approval.updated: %v", domain.ErrParse, err)
	}
	if p.ApprovalID == "" {
		return fmt.Errorf("%w: approval.updated missing approval_id", domain.ErrParse)
	}
	if p.ProjectID == "" {
		return fmt.Errorf("%w: approval.updated missing project_id", domain.ErrParse)
	}
	status, ok := delivery.ParseApprovalStatus(p.Status)
	if !ok {
		return fmt.Errorf("%w: approval.updated has unknown status %q", domain.ErrParse, p.Status)
	}

	return s.projects.HandleApprovalResponse(ctx, p.ApprovalID, delivery.ApprovalDecision{
		Status:   status,
		Feedback: p.Feedback,
	})
}

// handleStageChanged validates the event but applies nothing: stage
// authority lives here, not on the remote side. The event is
// acknowledged so the sender does not retry it.
func (s *WebhookIngestor) handleStageChanged(_ context.Context, body []byte) error {
	var p stageChangedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("%w: decode project.stage_changed: %v", domain.ErrParse, err)
	}
	if p.ProjectID == "" {
		return fmt.Errorf("%w: project.stage_changed missing project_id", domain.ErrParse)
	}
	if p.StageName == "" {
		return fmt.Errorf("%w: project.stage_changed missing stage_name", domain.ErrParse)
	}

	s.logger.Debug("remote stage change acknowledged, local state is authoritative",
		"project_id", p.ProjectID, "stage_name", p.StageName)
	return nil
}
