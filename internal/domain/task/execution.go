package task

// ExecutionStatus is the outcome reported for a task's execution process.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionKilled    ExecutionStatus = "killed"
)

// ExecutionSignal is the completion signal emitted by the execution
// platform when a task's process finishes or changes state.
type ExecutionSignal struct {
	TaskID         string          `json:"task_id"`
	LocalProjectID string          `json:"local_project_id"`
	Status         ExecutionStatus `json:"status"`
}
