// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
)

// Store is the port interface for database operations.
type Store interface {
	// Delivery projects
	CreateDeliveryProject(ctx context.Context, p *delivery.Project) error
	GetDeliveryProject(ctx context.Context, id string) (*delivery.Project, error)
	GetDeliveryProjectByRemoteID(ctx context.Context, remoteProjectID string) (*delivery.Project, error)
	GetDeliveryProjectByLocalID(ctx context.Context, localProjectID string) (*delivery.Project, error)
	ListDeliveryProjects(ctx context.Context) ([]delivery.Project, error)
	UpdateDeliveryStage(ctx context.Context, id string, s stage.Stage) error
	UpdateDeliverySyncStatus(ctx context.Context, id string, status delivery.SyncStatus) error

	// Approvals
	CreateApproval(ctx context.Context, a *delivery.Approval) error
	GetApproval(ctx context.Context, id string) (*delivery.Approval, error)
	GetApprovalByRemoteID(ctx context.Context, remoteID string) (*delivery.Approval, error)
	FindPendingApproval(ctx context.Context, projectID string, s stage.Stage) (*delivery.Approval, error)
	ListApprovalsByProject(ctx context.Context, projectID string) ([]delivery.Approval, error)
	ListPendingBoundApprovals(ctx context.Context) ([]delivery.Approval, error)
	UpdateApprovalStatus(ctx context.Context, id string, status delivery.ApprovalStatus, feedback string) error
	BindApprovalRemoteID(ctx context.Context, id, remoteID string) error

	// Local execution platform collaborators
	CreateLocalProject(ctx context.Context, p *task.LocalProject) error
	GetLocalProject(ctx context.Context, id string) (*task.LocalProject, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
}
