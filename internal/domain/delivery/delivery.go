// Package delivery defines the entities tracked by the workflow sync core:
// the link between a remote client project and its local execution project,
// client approvals per gated stage, and stage deliverables.
package delivery

import (
	"time"

	"github.com/calebhart/stagesync/internal/domain/stage"
)

// SyncStatus describes the synchronization state of a tracked project.
type SyncStatus string

const (
	SyncActive    SyncStatus = "active"
	SyncPaused    SyncStatus = "paused"
	SyncError     SyncStatus = "error"
	SyncCompleted SyncStatus = "completed"
)

// ApprovalStatus is the client's decision state for a gated stage.
type ApprovalStatus string

const (
	ApprovalPending          ApprovalStatus = "pending"
	ApprovalApproved         ApprovalStatus = "approved"
	ApprovalRejected         ApprovalStatus = "rejected"
	ApprovalChangesRequested ApprovalStatus = "changes_requested"
)

// ParseApprovalStatus maps a wire string to an ApprovalStatus.
func ParseApprovalStatus(s string) (ApprovalStatus, bool) {
	switch ApprovalStatus(s) {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalChangesRequested:
		return ApprovalStatus(s), true
	}
	return "", false
}

// Terminal reports whether the status is a final client decision.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalChangesRequested
}

// Project links a remote client-facing project to a local execution project.
// StageTaskMapping is created once with one entry per stage and is never
// mutated afterward.
type Project struct {
	ID              string                 `json:"id"`
	RemoteProjectID string                 `json:"remote_project_id"`
	LocalProjectID  string                 `json:"local_project_id"`
	CurrentStage    stage.Stage            `json:"current_stage"`
	StageTaskMap    map[stage.Stage]string `json:"stage_task_mapping"`
	SyncStatus      SyncStatus             `json:"sync_status"`
	LastSyncedAt    time.Time              `json:"last_synced_at,omitzero"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// TaskForStage returns the local task bound to the given stage.
func (p *Project) TaskForStage(s stage.Stage) (string, bool) {
	id, ok := p.StageTaskMap[s]
	return id, ok
}

// StageForTask performs the reverse lookup from task id to stage.
func (p *Project) StageForTask(taskID string) (stage.Stage, bool) {
	for s, id := range p.StageTaskMap {
		if id == taskID {
			return s, true
		}
	}
	return "", false
}

// Approval tracks the client decision state for one (project, stage) pair.
// RemoteID is bound asynchronously after the remote mirror succeeds and may
// stay empty if that call failed. Once RespondedAt is set the approval is
// terminal and must not be re-processed.
type Approval struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Stage          stage.Stage    `json:"stage"`
	RemoteID       string         `json:"remote_id,omitempty"`
	Status         ApprovalStatus `json:"status"`
	RequestedAt    time.Time      `json:"requested_at"`
	RespondedAt    time.Time      `json:"responded_at,omitzero"`
	ClientFeedback string         `json:"client_feedback,omitempty"`
	PreviewURL     string         `json:"preview_url,omitempty"`
	Deliverables   []Deliverable  `json:"deliverables"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Responded reports whether a client decision has been recorded.
func (a *Approval) Responded() bool { return !a.RespondedAt.IsZero() }

// Deliverable is a file or link produced during a stage. It only exists
// attached to an approval or a stage registration call.
type Deliverable struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Type      string    `json:"type"` // "file", "link", "preview", or a MIME type
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProjectRequest is the payload of a project.created webhook.
type CreateProjectRequest struct {
	ProjectID          string `json:"project_id"`
	ProjectNumber      string `json:"project_number"`
	CompanyName        string `json:"company_name"`
	WizardCompletionID string `json:"wizard_completion_id"`
	IsRushDelivery     bool   `json:"is_rush_delivery"`
}

// ApprovalDecision is an approval response submitted from the operator UI.
type ApprovalDecision struct {
	Status   ApprovalStatus `json:"status"`
	Feedback string         `json:"feedback,omitempty"`
}
