// Package remote defines the port for the client-facing remote backend.
// The backend is reached only through its REST surface; every call here
// is an outbound network request and may fail independently of local
// state, which is authoritative.
package remote

import (
	"context"
	"encoding/json"

	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
)

// Activity is an entry for the remote project's client-visible feed.
type Activity struct {
	ProjectID  string         `json:"project_id"`
	UpdateType string         `json:"update_type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TaskRecord mirrors one local task's progress into the remote backend.
type TaskRecord struct {
	LocalProjectID string      `json:"local_project_id"`
	TaskID         string      `json:"task_id"`
	Stage          stage.Stage `json:"stage_name"`
	StageOrder     int         `json:"stage_order"`
	Status         string      `json:"status"` // "Todo" | "InProgress" | "Done"
	Progress       int         `json:"progress"`
}

// Client is the port interface for the remote backend's REST surface.
type Client interface {
	// Activity feed
	CreateActivity(ctx context.Context, a Activity) error

	// Project stage/progress patches
	UpdateProjectStage(ctx context.Context, remoteProjectID string, s stage.Stage, progress int) error

	// Approval CRUD
	CreateApproval(ctx context.Context, remoteProjectID, remoteStageID, approvalType, previewURL string, deliverables []delivery.Deliverable) (remoteApprovalID string, err error)
	UpdateApproval(ctx context.Context, remoteApprovalID string, status delivery.ApprovalStatus, feedback string) error

	// Sync-link project records
	CreateProjectRecord(ctx context.Context, remoteProjectID, localProjectID string) error
	UpdateProjectRecord(ctx context.Context, localProjectID string, s stage.Stage, overallProgress int) error

	// Per-task progress records
	CreateTaskRecord(ctx context.Context, rec TaskRecord) error
	UpdateTaskRecord(ctx context.Context, taskID string, progress int, status string) error

	// Deliverable registration
	CreateDeliverable(ctx context.Context, localProjectID string, s stage.Stage, d delivery.Deliverable) error

	// Reads
	GetProject(ctx context.Context, remoteProjectID string) (json.RawMessage, error)
	GetWizardCompletion(ctx context.Context, wizardCompletionID string) (json.RawMessage, error)
}
