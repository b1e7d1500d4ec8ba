package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventProjectStatus    = "project.status"
	EventStageAdvanced    = "project.stage_advanced"
	EventApprovalRequired = "approval.required"
	EventApprovalResolved = "approval.resolved"
)

// ProjectStatusEvent is broadcast when a project's sync status changes.
type ProjectStatusEvent struct {
	ProjectID    string `json:"project_id"`
	CurrentStage string `json:"current_stage"`
	SyncStatus   string `json:"sync_status"`
}

// StageAdvancedEvent is broadcast when a project moves to the next stage.
type StageAdvancedEvent struct {
	ProjectID string `json:"project_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	Progress  int    `json:"progress"`
}

// ApprovalEvent is broadcast when an approval is requested or resolved.
type ApprovalEvent struct {
	ApprovalID string `json:"approval_id"`
	ProjectID  string `json:"project_id"`
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	Feedback   string `json:"feedback,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
