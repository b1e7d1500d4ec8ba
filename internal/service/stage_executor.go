package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calebhart/stagesync/internal/adapter/otel"
	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/port/broadcast"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/remote"
)

// StageExecutorService drives a project through the workflow: on each
// stage completion it either opens an approval gate or advances to the
// successor stage. Local state moves first; the remote backend is told
// afterwards and a failed call there never blocks the transition.
type StageExecutorService struct {
	store     database.Store
	remote    remote.Client
	approvals *ApprovalSyncService
	logger    *slog.Logger
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
}

// NewStageExecutor creates a new StageExecutorService.
func NewStageExecutor(store database.Store, rc remote.Client, approvals *ApprovalSyncService, logger *slog.Logger) *StageExecutorService {
	return &StageExecutorService{store: store, remote: rc, approvals: approvals, logger: logger}
}

// SetBroadcaster sets the optional real-time event broadcaster.
func (s *StageExecutorService) SetBroadcaster(hub broadcast.Broadcaster) {
	s.hub = hub
}

// SetMetrics sets the optional metric instruments.
func (s *StageExecutorService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// OverallProgress returns the whole-project completion percentage after
// doneStages of the workflow have finished, rounded down.
func OverallProgress(doneStages int) int {
	if doneStages < 0 {
		return 0
	}
	if doneStages > stage.Count {
		doneStages = stage.Count
	}
	return doneStages * 100 / stage.Count
}

// OnTaskCompleted handles the completion of the task bound to
// completed. A completion for any stage other than the project's
// current one is stale (a duplicate signal or an out-of-order delivery)
// and is dropped with a warning.
func (s *StageExecutorService) OnTaskCompleted(ctx context.Context, p *delivery.Project, completed stage.Stage) error {
	if completed != p.CurrentStage {
		s.logger.Warn("stale stage completion ignored",
			"project_id", p.ID, "completed", completed, "current", p.CurrentStage)
		return nil
	}

	if stage.RequiresApproval(completed) {
		return s.openApprovalGate(ctx, p, completed)
	}
	return s.Advance(ctx, p)
}

// openApprovalGate parks the project on its current stage behind a
// pending approval and tells the client about it.
func (s *StageExecutorService) openApprovalGate(ctx context.Context, p *delivery.Project, st stage.Stage) error {
	a, err := s.approvals.CreateApprovalRequest(ctx, p, st, "", nil)
	if err != nil {
		return fmt.Errorf("open approval gate for %s: %w", st, err)
	}

	meta, _ := stage.Lookup(st)
	if err := s.remote.CreateActivity(ctx, remote.Activity{
		ProjectID:  p.RemoteProjectID,
		UpdateType: "approval_needed",
		Title:      fmt.Sprintf("%s ready for your review", meta.DisplayName),
		Message:    fmt.Sprintf("The %s stage is complete and waiting for your approval.", meta.DisplayName),
		Metadata:   map[string]any{"approval_id": a.ID, "stage": st.String()},
	}); err != nil {
		s.remoteCallFailed(ctx, "create activity", p, err)
	}
	return nil
}

// Advance moves the project off its current stage. With a successor it
// persists the transition and starts the next task; on the terminal
// stage it finishes the project instead.
func (s *StageExecutorService) Advance(ctx context.Context, p *delivery.Project) error {
	from := p.CurrentStage
	next, ok := stage.Next(from)
	if !ok {
		return s.complete(ctx, p)
	}
	return s.transition(ctx, p, from, next)
}

// AdvanceFrom moves the project to the successor of from, regardless of
// the stage the project currently sits on. The approval path uses this
// so a late decision advances the approval's own stage. A from with no
// successor is a no-op here: closing out the terminal stage belongs to
// the task-completion path.
func (s *StageExecutorService) AdvanceFrom(ctx context.Context, p *delivery.Project, from stage.Stage) error {
	next, ok := stage.Next(from)
	if !ok {
		s.logger.Debug("terminal stage approval takes no further action",
			"project_id", p.ID, "stage", from)
		return nil
	}
	return s.transition(ctx, p, from, next)
}

func (s *StageExecutorService) transition(ctx context.Context, p *delivery.Project, from, next stage.Stage) error {
	ctx, span := otel.StartStageSpan(ctx, p.ID, from.String(), next.String())
	defer span.End()

	if err := s.store.UpdateDeliveryStage(ctx, p.ID, next); err != nil {
		return fmt.Errorf("%w: advance %s to %s: %v", domain.ErrLocalPersist, p.ID, next, err)
	}
	p.CurrentStage = next

	if id, ok := p.TaskForStage(from); ok {
		if err := s.store.UpdateTaskStatus(ctx, id, task.StatusDone); err != nil {
			s.logger.Warn("mark completed task done failed", "task_id", id, "error", err)
		}
	}
	if id, ok := p.TaskForStage(next); ok {
		if err := s.store.UpdateTaskStatus(ctx, id, task.StatusInProgress); err != nil {
			s.logger.Warn("start next stage task failed", "task_id", id, "error", err)
		}
	}

	meta, _ := stage.Lookup(next)
	if err := s.remote.CreateActivity(ctx, remote.Activity{
		ProjectID:  p.RemoteProjectID,
		UpdateType: "stage_started",
		Title:      fmt.Sprintf("%s started", meta.DisplayName),
		Message:    fmt.Sprintf("Work on %s has begun.", meta.DisplayName),
		Metadata:   map[string]any{"stage": next.String()},
	}); err != nil {
		s.remoteCallFailed(ctx, "create activity", p, err)
	}
	if err := s.remote.UpdateProjectStage(ctx, p.RemoteProjectID, next, 0); err != nil {
		s.remoteCallFailed(ctx, "update project stage", p, err)
	}

	if s.metrics != nil {
		s.metrics.StagesAdvanced.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventStageAdvanced, ws.StageAdvancedEvent{
			ProjectID: p.ID,
			FromStage: from.String(),
			ToStage:   next.String(),
			Progress:  OverallProgress(stage.Index(next)),
		})
	}
	s.logger.Info("stage advanced", "project_id", p.ID, "from", from, "to", next)
	return nil
}

// complete closes out the terminal stage.
func (s *StageExecutorService) complete(ctx context.Context, p *delivery.Project) error {
	if err := s.store.UpdateDeliverySyncStatus(ctx, p.ID, delivery.SyncCompleted); err != nil {
		return fmt.Errorf("%w: complete project %s: %v", domain.ErrLocalPersist, p.ID, err)
	}
	if id, ok := p.TaskForStage(p.CurrentStage); ok {
		if err := s.store.UpdateTaskStatus(ctx, id, task.StatusDone); err != nil {
			s.logger.Warn("mark final task done failed", "task_id", id, "error", err)
		}
	}

	if err := s.remote.CreateActivity(ctx, remote.Activity{
		ProjectID:  p.RemoteProjectID,
		UpdateType: "project_delivered",
		Title:      "Your project has been delivered",
		Message:    "All workflow stages are complete.",
	}); err != nil {
		s.remoteCallFailed(ctx, "create activity", p, err)
	}
	if err := s.remote.UpdateProjectStage(ctx, p.RemoteProjectID, stage.Last(), 100); err != nil {
		s.remoteCallFailed(ctx, "update project stage", p, err)
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventProjectStatus, ws.ProjectStatusEvent{
			ProjectID:    p.ID,
			CurrentStage: stage.Last().String(),
			SyncStatus:   string(delivery.SyncCompleted),
		})
	}
	s.logger.Info("project delivered", "project_id", p.ID)
	return nil
}

// RegisterDeliverable forwards a stage deliverable to the remote
// backend so the client sees it in their project view.
func (s *StageExecutorService) RegisterDeliverable(ctx context.Context, p *delivery.Project, st stage.Stage, d delivery.Deliverable) error {
	if err := s.remote.CreateDeliverable(ctx, p.LocalProjectID, st, d); err != nil {
		s.remoteCallFailed(ctx, "create deliverable", p, err)
		return fmt.Errorf("register deliverable %q: %w", d.Name, err)
	}
	return nil
}

func (s *StageExecutorService) remoteCallFailed(ctx context.Context, op string, p *delivery.Project, err error) {
	s.logger.Warn("remote call failed, local state kept",
		"op", op, "project_id", p.ID, "remote_project_id", p.RemoteProjectID, "error", err)
	if s.metrics != nil {
		s.metrics.RemoteCallFailures.Add(ctx, 1)
	}
}
