package messagequeue

// ExecutionCompletedPayload is the schema for executions.completed messages.
type ExecutionCompletedPayload struct {
	TaskID         string `json:"task_id"`
	LocalProjectID string `json:"local_project_id"`
	Status         string `json:"status"` // running | completed | failed | killed
}

// TaskStatusPayload is the schema for executions.task.status messages.
type TaskStatusPayload struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}
