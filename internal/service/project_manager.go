package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calebhart/stagesync/internal/adapter/otel"
	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/port/broadcast"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/remote"
	"github.com/calebhart/stagesync/internal/port/scaffold"
)

// ProjectManagerService owns the lifecycle of a delivery project: it
// turns a remote project.created notification into a fully scaffolded
// local project with one task per workflow stage, and routes client
// approval responses back into the workflow.
type ProjectManagerService struct {
	store     database.Store
	remote    remote.Client
	scaffold  scaffold.Bootstrapper
	executor  *StageExecutorService
	approvals *ApprovalSyncService
	logger    *slog.Logger
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
}

// NewProjectManager creates a new ProjectManagerService.
func NewProjectManager(store database.Store, rc remote.Client, sb scaffold.Bootstrapper, executor *StageExecutorService, approvals *ApprovalSyncService, logger *slog.Logger) *ProjectManagerService {
	return &ProjectManagerService{
		store:     store,
		remote:    rc,
		scaffold:  sb,
		executor:  executor,
		approvals: approvals,
		logger:    logger,
	}
}

// SetBroadcaster sets the optional real-time event broadcaster.
func (s *ProjectManagerService) SetBroadcaster(hub broadcast.Broadcaster) {
	s.hub = hub
}

// SetMetrics sets the optional metric instruments.
func (s *ProjectManagerService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// wizardRequirements is the subset of the client onboarding wizard this
// service reads to seed task descriptions. The remote record carries
// more; unknown fields are ignored.
type wizardRequirements struct {
	BusinessName   string `json:"business_name"`
	Industry       string `json:"industry"`
	TargetAudience string `json:"target_audience"`
	DesignStyle    string `json:"design_style"`
	PrimaryGoal    string `json:"primary_goal"`
}

// Create sets up everything for a new client project. Ordering matters:
// the wizard requirements read and the scaffold run abort the whole
// operation, local persistence is authoritative, and the trailing
// remote notifications are best-effort.
func (s *ProjectManagerService) Create(ctx context.Context, req delivery.CreateProjectRequest) (*delivery.Project, error) {
	if existing, err := s.store.GetDeliveryProjectByRemoteID(ctx, req.ProjectID); err == nil {
		s.logger.Warn("duplicate project creation ignored", "remote_project_id", req.ProjectID)
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check existing project: %w", err)
	}

	raw, err := s.remote.GetWizardCompletion(ctx, req.WizardCompletionID)
	if err != nil {
		return nil, fmt.Errorf("%w: wizard completion %s: %v", domain.ErrRemoteFetch, req.WizardCompletionID, err)
	}
	var reqs wizardRequirements
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("%w: decode wizard completion: %v", domain.ErrParse, err)
	}

	dir, err := s.scaffold.Bootstrap(ctx, req.ProjectID)
	if err != nil {
		// A partial directory may be left behind; it is reported, not
		// removed, so an operator can inspect it.
		return nil, fmt.Errorf("bootstrap project %s: %w", req.ProjectID, err)
	}

	lp := &task.LocalProject{
		ID:       uuid.NewString(),
		Name:     projectName(req, reqs),
		RepoPath: dir,
	}
	if err := s.store.CreateLocalProject(ctx, lp); err != nil {
		return nil, fmt.Errorf("%w: create local project: %v", domain.ErrLocalPersist, err)
	}

	mapping := make(map[stage.Stage]string, stage.Count)
	for i, st := range stage.All() {
		t, err := s.store.CreateTask(ctx, task.CreateRequest{
			ProjectID:   lp.ID,
			Title:       fmt.Sprintf("Stage %d: %s", i+1, stage.DisplayName(st)),
			Description: taskDescription(st, req, reqs),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: create task for %s: %v", domain.ErrLocalPersist, st, err)
		}
		mapping[st] = t.ID
	}

	p := &delivery.Project{
		ID:              uuid.NewString(),
		RemoteProjectID: req.ProjectID,
		LocalProjectID:  lp.ID,
		CurrentStage:    stage.First(),
		StageTaskMap:    mapping,
		SyncStatus:      delivery.SyncActive,
	}
	if err := s.store.CreateDeliveryProject(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create delivery project: %v", domain.ErrLocalPersist, err)
	}

	s.mirrorNewProject(ctx, p, mapping)

	if err := s.store.UpdateTaskStatus(ctx, mapping[stage.First()], task.StatusInProgress); err != nil {
		s.logger.Warn("start first stage task failed", "task_id", mapping[stage.First()], "error", err)
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventProjectStatus, ws.ProjectStatusEvent{
			ProjectID:    p.ID,
			CurrentStage: p.CurrentStage.String(),
			SyncStatus:   string(p.SyncStatus),
		})
	}
	s.logger.Info("delivery project created",
		"project_id", p.ID, "remote_project_id", req.ProjectID,
		"local_project_id", lp.ID, "dir", dir, "rush", req.IsRushDelivery)
	return p, nil
}

// mirrorNewProject pushes the sync-link record, the per-stage task
// records and a kickoff activity to the remote backend. Failures are
// logged and counted, never propagated.
func (s *ProjectManagerService) mirrorNewProject(ctx context.Context, p *delivery.Project, mapping map[stage.Stage]string) {
	if err := s.remote.CreateProjectRecord(ctx, p.RemoteProjectID, p.LocalProjectID); err != nil {
		s.remoteFailed(ctx, "create project record", p, err)
	}
	for i, st := range stage.All() {
		status := "Todo"
		if st == stage.First() {
			status = "InProgress"
		}
		if err := s.remote.CreateTaskRecord(ctx, remote.TaskRecord{
			LocalProjectID: p.LocalProjectID,
			TaskID:         mapping[st],
			Stage:          st,
			StageOrder:     i,
			Status:         status,
			Progress:       0,
		}); err != nil {
			s.remoteFailed(ctx, "create task record", p, err)
		}
	}
	if err := s.remote.CreateActivity(ctx, remote.Activity{
		ProjectID:  p.RemoteProjectID,
		UpdateType: "project_started",
		Title:      "Work on your project has started",
		Message:    "Your project has been set up and the first workflow stage is underway.",
	}); err != nil {
		s.remoteFailed(ctx, "create activity", p, err)
	}
}

// HandleApprovalResponse applies a client decision to an approval. The
// id may be either the local approval id (operator UI) or the remote
// mirror's id (webhook). Decided approvals reject re-processing, a
// still-pending decision is a no-op, approval advances the workflow,
// and a rejection pauses the project for rework.
func (s *ProjectManagerService) HandleApprovalResponse(ctx context.Context, approvalID string, d delivery.ApprovalDecision) error {
	a, err := s.resolveApproval(ctx, approvalID)
	if err != nil {
		return err
	}
	if a.Responded() {
		return fmt.Errorf("approval %s: %w", a.ID, domain.ErrConflict)
	}
	if d.Status == delivery.ApprovalPending {
		s.logger.Debug("pending approval decision ignored", "approval_id", a.ID)
		return nil
	}

	p, err := s.store.GetDeliveryProject(ctx, a.ProjectID)
	if err != nil {
		return fmt.Errorf("resolve project %s: %w", a.ProjectID, err)
	}

	if err := s.approvals.SyncApprovalToRemote(ctx, a.ID, d.Status, d.Feedback); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ApprovalsResolved.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalResolved, ws.ApprovalEvent{
			ApprovalID: a.ID,
			ProjectID:  p.ID,
			Stage:      a.Stage.String(),
			Status:     string(d.Status),
			Feedback:   d.Feedback,
		})
	}

	switch d.Status {
	case delivery.ApprovalApproved:
		return s.executor.AdvanceFrom(ctx, p, a.Stage)
	case delivery.ApprovalRejected, delivery.ApprovalChangesRequested:
		return s.pauseForRework(ctx, p, a, d)
	}
	return nil
}

// pauseForRework parks the project and puts the gated stage's task back
// in progress so the feedback can be addressed.
func (s *ProjectManagerService) pauseForRework(ctx context.Context, p *delivery.Project, a *delivery.Approval, d delivery.ApprovalDecision) error {
	if err := s.store.UpdateDeliverySyncStatus(ctx, p.ID, delivery.SyncPaused); err != nil {
		return fmt.Errorf("%w: pause project %s: %v", domain.ErrLocalPersist, p.ID, err)
	}
	if id, ok := p.TaskForStage(a.Stage); ok {
		if err := s.store.UpdateTaskStatus(ctx, id, task.StatusInProgress); err != nil {
			s.logger.Warn("reopen stage task failed", "task_id", id, "error", err)
		}
	}

	if err := s.remote.CreateActivity(ctx, remote.Activity{
		ProjectID:  p.RemoteProjectID,
		UpdateType: "changes_requested",
		Title:      fmt.Sprintf("Revisions underway for %s", stage.DisplayName(a.Stage)),
		Message:    "We received your feedback and are working on the requested changes.",
		Metadata:   map[string]any{"stage": a.Stage.String(), "feedback": d.Feedback},
	}); err != nil {
		s.remoteFailed(ctx, "create activity", p, err)
	}
	s.logger.Info("project paused for rework",
		"project_id", p.ID, "stage", a.Stage, "decision", d.Status)
	return nil
}

func (s *ProjectManagerService) resolveApproval(ctx context.Context, id string) (*delivery.Approval, error) {
	a, err := s.store.GetApproval(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	a, err = s.store.GetApprovalByRemoteID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return a, nil
}

// StageTaskState is one stage's slot in a project status report.
type StageTaskState struct {
	Stage  stage.Stage `json:"stage"`
	TaskID string      `json:"task_id"`
	Title  string      `json:"title"`
	Status task.Status `json:"status"`
}

// ProjectStatus is the full status report served to the operator UI.
// Workspace is the execution platform's record for the project and may
// be nil when that record cannot be loaded.
type ProjectStatus struct {
	Project   *delivery.Project  `json:"project"`
	Workspace *task.LocalProject `json:"workspace,omitempty"`
	Progress  int                `json:"progress"`
	Stages    []StageTaskState   `json:"stages"`
}

// Status reports a project's current stage, sync state and per-stage
// task states in workflow order.
func (s *ProjectManagerService) Status(ctx context.Context, projectID string) (*ProjectStatus, error) {
	p, err := s.store.GetDeliveryProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}

	done := 0
	states := make([]StageTaskState, 0, stage.Count)
	for _, st := range stage.All() {
		state := StageTaskState{Stage: st}
		if id, ok := p.TaskForStage(st); ok {
			state.TaskID = id
			if t, err := s.store.GetTask(ctx, id); err != nil {
				s.logger.Warn("stage task unavailable", "project_id", p.ID, "task_id", id, "error", err)
			} else {
				state.Title = t.Title
				state.Status = t.Status
				if t.Status == task.StatusDone {
					done++
				}
			}
		}
		states = append(states, state)
	}

	var workspace *task.LocalProject
	if lp, err := s.store.GetLocalProject(ctx, p.LocalProjectID); err != nil {
		s.logger.Warn("workspace record unavailable",
			"project_id", p.ID, "local_project_id", p.LocalProjectID, "error", err)
	} else {
		workspace = lp
	}

	return &ProjectStatus{Project: p, Workspace: workspace, Progress: OverallProgress(done), Stages: states}, nil
}

// Approvals lists every approval recorded for a project, newest first.
func (s *ProjectManagerService) Approvals(ctx context.Context, projectID string) ([]delivery.Approval, error) {
	if _, err := s.store.GetDeliveryProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return s.store.ListApprovalsByProject(ctx, projectID)
}

// SyncNow pushes the project's current stage and aggregate progress to
// the remote backend on demand. Unlike the background mirrors this is
// operator-triggered, so remote failures are returned.
func (s *ProjectManagerService) SyncNow(ctx context.Context, projectID string) error {
	ctx, span := otel.StartSyncSpan(ctx, projectID)
	defer span.End()

	if s.metrics != nil {
		start := time.Now()
		defer func() {
			s.metrics.SyncDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	status, err := s.Status(ctx, projectID)
	if err != nil {
		return err
	}
	p := status.Project

	if err := s.remote.UpdateProjectRecord(ctx, p.LocalProjectID, p.CurrentStage, status.Progress); err != nil {
		s.remoteFailed(ctx, "update project record", p, err)
		return fmt.Errorf("sync project %s: %w", projectID, err)
	}
	// Same-stage update, only to refresh last_synced_at.
	if err := s.store.UpdateDeliveryStage(ctx, p.ID, p.CurrentStage); err != nil {
		s.logger.Warn("stamp sync time failed", "project_id", p.ID, "error", err)
	}
	s.logger.Info("manual sync completed", "project_id", p.ID, "progress", status.Progress)
	return nil
}

func (s *ProjectManagerService) remoteFailed(ctx context.Context, op string, p *delivery.Project, err error) {
	s.logger.Warn("remote call failed, local state kept",
		"op", op, "project_id", p.ID, "error", err)
	if s.metrics != nil {
		s.metrics.RemoteCallFailures.Add(ctx, 1)
	}
}

// projectName derives a human-readable local project name.
func projectName(req delivery.CreateProjectRequest, reqs wizardRequirements) string {
	name := req.CompanyName
	if name == "" {
		name = reqs.BusinessName
	}
	if name == "" {
		name = req.ProjectID
	}
	if req.ProjectNumber != "" {
		return fmt.Sprintf("%s (%s)", name, req.ProjectNumber)
	}
	return name
}

// taskDescription renders the working brief for one stage's task from
// the wizard requirements.
func taskDescription(st stage.Stage, req delivery.CreateProjectRequest, reqs wizardRequirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s for %s.", stage.DisplayName(st), projectName(req, reqs))
	if reqs.Industry != "" {
		fmt.Fprintf(&b, " Industry: %s.", reqs.Industry)
	}
	if reqs.TargetAudience != "" {
		fmt.Fprintf(&b, " Target audience: %s.", reqs.TargetAudience)
	}
	if reqs.DesignStyle != "" && st == stage.DesignMockup {
		fmt.Fprintf(&b, " Design style: %s.", reqs.DesignStyle)
	}
	if reqs.PrimaryGoal != "" {
		fmt.Fprintf(&b, " Primary goal: %s.", reqs.PrimaryGoal)
	}
	if req.IsRushDelivery {
		b.WriteString(" Rush delivery: prioritize this work.")
	}
	return b.String()
}
