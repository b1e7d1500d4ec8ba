package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/port/broadcast"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/remote"
)

// ApprovalSyncService keeps the local approval rows and their remote
// mirrors in step. The local row is authoritative: it is written first,
// and a failed remote call never rolls it back or retries.
type ApprovalSyncService struct {
	store  database.Store
	remote remote.Client
	logger *slog.Logger
	hub    broadcast.Broadcaster
}

// NewApprovalSync creates a new ApprovalSyncService.
func NewApprovalSync(store database.Store, rc remote.Client, logger *slog.Logger) *ApprovalSyncService {
	return &ApprovalSyncService{store: store, remote: rc, logger: logger}
}

// SetBroadcaster sets the optional real-time event broadcaster.
func (s *ApprovalSyncService) SetBroadcaster(hub broadcast.Broadcaster) {
	s.hub = hub
}

// CreateApprovalRequest opens a pending approval for the given gated
// stage. The call is idempotent: if a pending approval already exists
// for the (project, stage) pair it is returned unchanged. The remote
// mirror is best-effort; when it fails the local row stays unbound and
// a later reconciliation scan can pick it up.
func (s *ApprovalSyncService) CreateApprovalRequest(ctx context.Context, p *delivery.Project, st stage.Stage, previewURL string, deliverables []delivery.Deliverable) (*delivery.Approval, error) {
	existing, err := s.store.FindPendingApproval(ctx, p.ID, st)
	if err == nil {
		s.logger.Debug("pending approval already exists", "project_id", p.ID, "stage", st)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find pending approval: %w", err)
	}

	a := &delivery.Approval{
		ID:           uuid.NewString(),
		ProjectID:    p.ID,
		Stage:        st,
		Status:       delivery.ApprovalPending,
		RequestedAt:  time.Now().UTC(),
		PreviewURL:   previewURL,
		Deliverables: deliverables,
	}
	if err := s.store.CreateApproval(ctx, a); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against a concurrent webhook; the winner's
			// row is the one that counts.
			return s.store.FindPendingApproval(ctx, p.ID, st)
		}
		return nil, fmt.Errorf("%w: create approval: %v", domain.ErrLocalPersist, err)
	}

	meta, _ := stage.Lookup(st)
	// The remote backend keys approvals to its own stage sub-records,
	// which this service has no way to look up yet. The stage name
	// stands in for that id; the remote side tolerates it.
	remoteID, err := s.remote.CreateApproval(ctx, p.RemoteProjectID, st.String(), meta.ApprovalType, previewURL, deliverables)
	if err != nil {
		s.logger.Warn("remote approval mirror failed, keeping local row unbound",
			"approval_id", a.ID, "project_id", p.ID, "stage", st, "error", err)
	} else if err := s.store.BindApprovalRemoteID(ctx, a.ID, remoteID); err != nil {
		s.logger.Warn("bind remote approval id failed", "approval_id", a.ID, "remote_id", remoteID, "error", err)
	} else {
		a.RemoteID = remoteID
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalRequired, ws.ApprovalEvent{
			ApprovalID: a.ID,
			ProjectID:  p.ID,
			Stage:      st.String(),
			Status:     string(a.Status),
		})
	}
	return a, nil
}

// SyncApprovalToRemote records a client decision locally and pushes it
// to the remote mirror when one is bound. An unbound approval only gets
// the local update; the skip is logged, not retried.
func (s *ApprovalSyncService) SyncApprovalToRemote(ctx context.Context, approvalID string, status delivery.ApprovalStatus, feedback string) error {
	if err := s.store.UpdateApprovalStatus(ctx, approvalID, status, feedback); err != nil {
		return fmt.Errorf("update approval %s: %w", approvalID, err)
	}

	a, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("reload approval %s: %w", approvalID, err)
	}
	if a.RemoteID == "" {
		s.logger.Info("approval has no remote mirror, skipping push", "approval_id", approvalID)
		return nil
	}
	if err := s.remote.UpdateApproval(ctx, a.RemoteID, status, feedback); err != nil {
		s.logger.Warn("remote approval update failed", "approval_id", approvalID, "remote_id", a.RemoteID, "error", err)
	}
	return nil
}

// SyncApprovalFromRemote applies a decision reported by the remote
// backend to the matching local row.
func (s *ApprovalSyncService) SyncApprovalFromRemote(ctx context.Context, remoteApprovalID string, status delivery.ApprovalStatus, feedback string) (*delivery.Approval, error) {
	a, err := s.store.GetApprovalByRemoteID(ctx, remoteApprovalID)
	if err != nil {
		return nil, fmt.Errorf("resolve remote approval %s: %w", remoteApprovalID, err)
	}
	if err := s.store.UpdateApprovalStatus(ctx, a.ID, status, feedback); err != nil {
		return nil, fmt.Errorf("update approval %s: %w", a.ID, err)
	}
	return s.store.GetApproval(ctx, a.ID)
}

// ResolveConflicts enumerates approvals that are still pending locally
// but already bound to a remote mirror, the set that could have diverged
// while this service was down. It only reports candidates; picking a
// winner needs decision timestamps the remote does not expose yet.
func (s *ApprovalSyncService) ResolveConflicts(ctx context.Context) ([]delivery.Approval, error) {
	candidates, err := s.store.ListPendingBoundApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending bound approvals: %w", err)
	}
	if len(candidates) > 0 {
		s.logger.Info("approval reconciliation candidates found", "count", len(candidates))
	}
	return candidates, nil
}
