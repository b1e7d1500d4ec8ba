package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calebhart/stagesync/internal/adapter/otel"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/messagequeue"
	"github.com/calebhart/stagesync/internal/port/remote"
)

// TaskSyncService mirrors execution progress of local tasks into the
// remote backend. It is a pure observer: it never advances stages or
// touches approvals, and every remote push is best-effort.
type TaskSyncService struct {
	store   database.Store
	remote  remote.Client
	logger  *slog.Logger
	queue   messagequeue.Queue
	metrics *otel.Metrics
}

// NewTaskSync creates a new TaskSyncService.
func NewTaskSync(store database.Store, rc remote.Client, logger *slog.Logger) *TaskSyncService {
	return &TaskSyncService{store: store, remote: rc, logger: logger}
}

// SetMetrics sets the optional metric instruments.
func (s *TaskSyncService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetQueue sets the optional queue used to announce task status
// transitions to other local consumers.
func (s *TaskSyncService) SetQueue(q messagequeue.Queue) {
	s.queue = q
}

// OnExecutionCompleted processes one execution signal from the local
// platform. Signals for projects or tasks this service does not track
// are dropped silently; tracked ones update the local task status, push
// a per-task record, then push the recomputed aggregate as a second
// independent call. The two pushes can diverge on partial failure;
// the next signal repairs that.
func (s *TaskSyncService) OnExecutionCompleted(ctx context.Context, sig task.ExecutionSignal) error {
	p, err := s.store.GetDeliveryProjectByLocalID(ctx, sig.LocalProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("execution signal for untracked project", "local_project_id", sig.LocalProjectID)
			return nil
		}
		return fmt.Errorf("resolve project for signal: %w", err)
	}

	st, ok := p.StageForTask(sig.TaskID)
	if !ok {
		s.logger.Warn("execution signal for unmapped task",
			"project_id", p.ID, "task_id", sig.TaskID)
		return nil
	}

	localStatus, progress, ok := mapExecutionStatus(sig.Status)
	if !ok {
		s.logger.Warn("unknown execution status", "task_id", sig.TaskID, "status", sig.Status)
		return nil
	}

	if err := s.store.UpdateTaskStatus(ctx, sig.TaskID, localStatus); err != nil {
		return fmt.Errorf("%w: update task %s: %v", domain.ErrLocalPersist, sig.TaskID, err)
	}
	s.announceStatus(ctx, p.LocalProjectID, sig.TaskID, localStatus)

	if err := s.remote.UpdateTaskRecord(ctx, sig.TaskID, progress, remoteTaskStatus(localStatus)); err != nil {
		s.remoteFailed(ctx, "update task record", sig.TaskID, err)
	}

	overall, err := s.overallProgress(ctx, p.StageTaskMap)
	if err != nil {
		s.logger.Warn("aggregate progress unavailable", "project_id", p.ID, "error", err)
		return nil
	}
	if err := s.remote.UpdateProjectRecord(ctx, p.LocalProjectID, p.CurrentStage, overall); err != nil {
		s.remoteFailed(ctx, "update project record", p.LocalProjectID, err)
	}

	s.logger.Info("task progress synced",
		"project_id", p.ID, "task_id", sig.TaskID, "stage", st,
		"status", localStatus, "overall", overall)
	return nil
}

// announceStatus publishes the task's new status for local consumers.
// Delivery is best-effort like every side channel here.
func (s *TaskSyncService) announceStatus(ctx context.Context, localProjectID, taskID string, st task.Status) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.TaskStatusPayload{
		TaskID:    taskID,
		ProjectID: localProjectID,
		Status:    string(st),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskStatus, data); err != nil {
		s.logger.Warn("publish task status failed", "task_id", taskID, "error", err)
	}
}

// overallProgress counts finished stage tasks and converts the count to
// a whole-project percentage.
func (s *TaskSyncService) overallProgress(ctx context.Context, mapping map[stage.Stage]string) (int, error) {
	done := 0
	for _, id := range mapping {
		t, err := s.store.GetTask(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("get task %s: %w", id, err)
		}
		if t.Status == task.StatusDone {
			done++
		}
	}
	return OverallProgress(done), nil
}

// mapExecutionStatus converts a platform execution outcome into the
// local task status plus an in-stage progress percentage. A failed or
// killed run leaves the task in progress at zero so it reads as
// "being redone" rather than regressed to untouched.
func mapExecutionStatus(es task.ExecutionStatus) (task.Status, int, bool) {
	switch es {
	case task.ExecutionRunning:
		return task.StatusInProgress, 50, true
	case task.ExecutionCompleted:
		return task.StatusDone, 100, true
	case task.ExecutionFailed, task.ExecutionKilled:
		return task.StatusInProgress, 0, true
	}
	return "", 0, false
}

// remoteTaskStatus maps local task statuses to the remote backend's
// capitalized vocabulary.
func remoteTaskStatus(st task.Status) string {
	switch st {
	case task.StatusInProgress:
		return "InProgress"
	case task.StatusDone:
		return "Done"
	}
	return "Todo"
}

func (s *TaskSyncService) remoteFailed(ctx context.Context, op, id string, err error) {
	s.logger.Warn("remote call failed, local state kept", "op", op, "id", id, "error", err)
	if s.metrics != nil {
		s.metrics.RemoteCallFailures.Add(ctx, 1)
	}
}
