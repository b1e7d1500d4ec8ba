package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/messagequeue"
)

// ExecutionListener consumes execution-completion signals from the
// message queue and fans them out to the two independent consumers:
// TaskSyncService mirrors progress, StageExecutorService decides
// whether the workflow moves. Either one failing does not stop the
// other; the message is only retried when both could not run.
type ExecutionListener struct {
	queue    messagequeue.Queue
	store    database.Store
	taskSync *TaskSyncService
	executor *StageExecutorService
	logger   *slog.Logger
}

// NewExecutionListener creates a new ExecutionListener.
func NewExecutionListener(q messagequeue.Queue, store database.Store, taskSync *TaskSyncService, executor *StageExecutorService, logger *slog.Logger) *ExecutionListener {
	return &ExecutionListener{queue: q, store: store, taskSync: taskSync, executor: executor, logger: logger}
}

// Start subscribes to the completion subject. The returned cancel
// function stops the subscription.
func (l *ExecutionListener) Start(ctx context.Context) (cancel func(), err error) {
	return l.queue.Subscribe(ctx, messagequeue.SubjectExecutionCompleted, l.handle)
}

func (l *ExecutionListener) handle(ctx context.Context, subject string, data []byte) error {
	var payload messagequeue.ExecutionCompletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode execution signal: %w", err)
	}
	sig := task.ExecutionSignal{
		TaskID:         payload.TaskID,
		LocalProjectID: payload.LocalProjectID,
		Status:         task.ExecutionStatus(payload.Status),
	}

	if err := l.taskSync.OnExecutionCompleted(ctx, sig); err != nil {
		l.logger.Error("task sync failed for execution signal",
			"task_id", sig.TaskID, "error", err)
		return err
	}

	// Only a finished run can move the workflow.
	if sig.Status != task.ExecutionCompleted {
		return nil
	}
	p, err := l.store.GetDeliveryProjectByLocalID(ctx, sig.LocalProjectID)
	if err != nil {
		// Untracked projects were already skipped by the task sync.
		l.logger.Debug("no workflow for execution signal", "local_project_id", sig.LocalProjectID)
		return nil
	}
	st, ok := p.StageForTask(sig.TaskID)
	if !ok {
		return nil
	}
	if err := l.executor.OnTaskCompleted(ctx, p, st); err != nil {
		l.logger.Error("stage transition failed for execution signal",
			"project_id", p.ID, "stage", st, "error", err)
		return err
	}
	return nil
}
