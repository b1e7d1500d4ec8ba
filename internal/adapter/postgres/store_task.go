package postgres

import (
	"context"
	"fmt"

	"github.com/calebhart/stagesync/internal/domain/task"
)

// --- Local execution platform records ---

func (s *Store) CreateLocalProject(ctx context.Context, p *task.LocalProject) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO local_projects (name, repo_path) VALUES ($1, $2)
		 RETURNING id, name, repo_path, created_at`,
		p.Name, p.RepoPath)

	if err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.CreatedAt); err != nil {
		return fmt.Errorf("create local project %s: %w", p.Name, err)
	}
	return nil
}

func (s *Store) GetLocalProject(ctx context.Context, id string) (*task.LocalProject, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, repo_path, created_at FROM local_projects WHERE id = $1`, id)

	var p task.LocalProject
	if err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get local project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (project_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING id, project_id, title, description, status, created_at, updated_at`,
		req.ProjectID, req.Title, req.Description)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", req.Title, err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, description, status, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update task status %s", id)
}

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
