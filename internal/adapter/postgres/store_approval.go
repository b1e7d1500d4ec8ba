package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
)

// --- Approvals ---

const approvalCols = `id, project_id, stage, remote_id, status, requested_at, responded_at, client_feedback, preview_url, deliverables, created_at, updated_at`

func (s *Store) CreateApproval(ctx context.Context, a *delivery.Approval) error {
	deliverables, err := json.Marshal(orEmpty(a.Deliverables))
	if err != nil {
		return fmt.Errorf("marshal deliverables: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO approvals (project_id, stage, remote_id, status, client_feedback, preview_url, deliverables)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+approvalCols,
		a.ProjectID, a.Stage, nullIfEmpty(a.RemoteID), a.Status, a.ClientFeedback, a.PreviewURL, deliverables)

	got, err := scanApproval(row)
	if err != nil {
		// The partial unique index on pending rows fires when a
		// concurrent request already opened this gate.
		if isUniqueViolation(err) {
			return fmt.Errorf("create approval for project %s stage %s: %w", a.ProjectID, a.Stage, domain.ErrConflict)
		}
		return fmt.Errorf("create approval for project %s stage %s: %w", a.ProjectID, a.Stage, err)
	}
	*a = got
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*delivery.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalCols+` FROM approvals WHERE id = $1`, id)

	a, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &a, nil
}

func (s *Store) GetApprovalByRemoteID(ctx context.Context, remoteID string) (*delivery.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalCols+` FROM approvals WHERE remote_id = $1`, remoteID)

	a, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval by remote id %s", remoteID)
	}
	return &a, nil
}

func (s *Store) FindPendingApproval(ctx context.Context, projectID string, st stage.Stage) (*delivery.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalCols+` FROM approvals
		 WHERE project_id = $1 AND stage = $2 AND status = 'pending'
		 ORDER BY requested_at DESC LIMIT 1`, projectID, st)

	a, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "find pending approval for project %s stage %s", projectID, st)
	}
	return &a, nil
}

func (s *Store) ListApprovalsByProject(ctx context.Context, projectID string) ([]delivery.Approval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalCols+` FROM approvals WHERE project_id = $1 ORDER BY requested_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list approvals for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var approvals []delivery.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return orEmpty(approvals), rows.Err()
}

// ListPendingBoundApprovals returns pending approvals that have a remote id,
// i.e. those the remote status watch loop can poll for a client decision.
func (s *Store) ListPendingBoundApprovals(ctx context.Context) ([]delivery.Approval, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalCols+` FROM approvals
		 WHERE status = 'pending' AND remote_id IS NOT NULL
		 ORDER BY requested_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending bound approvals: %w", err)
	}
	defer rows.Close()

	var approvals []delivery.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return orEmpty(approvals), rows.Err()
}

func (s *Store) UpdateApprovalStatus(ctx context.Context, id string, status delivery.ApprovalStatus, feedback string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approvals
		 SET status = $2, client_feedback = $3, responded_at = now(), updated_at = now()
		 WHERE id = $1`, id, status, feedback)
	return execExpectOne(tag, err, "update approval status %s", id)
}

func (s *Store) BindApprovalRemoteID(ctx context.Context, id, remoteID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approvals SET remote_id = $2, updated_at = now() WHERE id = $1`,
		id, remoteID)
	return execExpectOne(tag, err, "bind approval %s remote id", id)
}

func scanApproval(row scannable) (delivery.Approval, error) {
	var (
		a            delivery.Approval
		remoteID     *string
		respondedAt  *time.Time
		deliverables []byte
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Stage, &remoteID, &a.Status,
		&a.RequestedAt, &respondedAt, &a.ClientFeedback, &a.PreviewURL,
		&deliverables, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return delivery.Approval{}, err
	}
	if remoteID != nil {
		a.RemoteID = *remoteID
	}
	if respondedAt != nil {
		a.RespondedAt = *respondedAt
	}
	if len(deliverables) > 0 {
		if err := json.Unmarshal(deliverables, &a.Deliverables); err != nil {
			return delivery.Approval{}, fmt.Errorf("unmarshal deliverables: %w", err)
		}
	}
	a.Deliverables = orEmpty(a.Deliverables)
	return a, nil
}
