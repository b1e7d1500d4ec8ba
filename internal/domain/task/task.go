// Package task defines the local execution platform's task entity as
// consumed by the sync core. The platform itself (process supervision,
// git isolation, log streaming) is an external collaborator; only
// create/find/update-status are used here.
package task

import "time"

// Status represents the current state of a local task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusDone       Status = "done"
)

// Task is one unit of work on the execution platform. Each delivery
// project owns exactly one task per workflow stage.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// LocalProject is the execution platform's project record.
type LocalProject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RepoPath  string    `json:"repo_path"`
	CreatedAt time.Time `json:"created_at"`
}
