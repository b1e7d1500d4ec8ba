package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Delivery projects ---

const deliveryProjectCols = `id, remote_project_id, local_project_id, current_stage, stage_task_mapping, sync_status, last_synced_at, created_at, updated_at`

func (s *Store) CreateDeliveryProject(ctx context.Context, p *delivery.Project) error {
	mapping, err := json.Marshal(p.StageTaskMap)
	if err != nil {
		return fmt.Errorf("marshal stage task mapping: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO delivery_projects (remote_project_id, local_project_id, current_stage, stage_task_mapping, sync_status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (remote_project_id) DO NOTHING
		 RETURNING `+deliveryProjectCols,
		p.RemoteProjectID, p.LocalProjectID, p.CurrentStage, mapping, p.SyncStatus)

	got, err := scanDeliveryProject(row)
	if err != nil {
		// No row returned means the ON CONFLICT clause fired.
		return notFoundWrapConflict(err, "create delivery project %s", p.RemoteProjectID)
	}
	*p = got
	return nil
}

// GetDeliveryProject fetches a delivery project by its own id.
func (s *Store) GetDeliveryProject(ctx context.Context, id string) (*delivery.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryProjectCols+` FROM delivery_projects WHERE id = $1`, id)

	p, err := scanDeliveryProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get delivery project %s", id)
	}
	return &p, nil
}

func (s *Store) GetDeliveryProjectByRemoteID(ctx context.Context, remoteProjectID string) (*delivery.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryProjectCols+` FROM delivery_projects WHERE remote_project_id = $1`,
		remoteProjectID)

	p, err := scanDeliveryProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get delivery project by remote id %s", remoteProjectID)
	}
	return &p, nil
}

func (s *Store) GetDeliveryProjectByLocalID(ctx context.Context, localProjectID string) (*delivery.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryProjectCols+` FROM delivery_projects WHERE local_project_id = $1`,
		localProjectID)

	p, err := scanDeliveryProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get delivery project by local id %s", localProjectID)
	}
	return &p, nil
}

// ListDeliveryProjects returns every tracked project, newest first.
func (s *Store) ListDeliveryProjects(ctx context.Context) ([]delivery.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryProjectCols+` FROM delivery_projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list delivery projects: %w", err)
	}
	defer rows.Close()

	var out []delivery.Project
	for rows.Next() {
		p, err := scanDeliveryProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeliveryStage(ctx context.Context, id string, st stage.Stage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delivery_projects
		 SET current_stage = $2, last_synced_at = now(), updated_at = now()
		 WHERE id = $1`, id, st)
	return execExpectOne(tag, err, "update delivery stage %s", id)
}

func (s *Store) UpdateDeliverySyncStatus(ctx context.Context, id string, status delivery.SyncStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delivery_projects SET sync_status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	return execExpectOne(tag, err, "update delivery sync status %s", id)
}

func scanDeliveryProject(row scannable) (delivery.Project, error) {
	var (
		p          delivery.Project
		mapping    []byte
		lastSynced *time.Time
	)
	if err := row.Scan(&p.ID, &p.RemoteProjectID, &p.LocalProjectID, &p.CurrentStage,
		&mapping, &p.SyncStatus, &lastSynced, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return delivery.Project{}, err
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &p.StageTaskMap); err != nil {
			return delivery.Project{}, fmt.Errorf("unmarshal stage task mapping: %w", err)
		}
	}
	if lastSynced != nil {
		p.LastSyncedAt = *lastSynced
	}
	return p, nil
}

// notFoundWrapConflict is notFoundWrap with ErrConflict instead of ErrNotFound,
// for inserts whose ON CONFLICT DO NOTHING swallowed the row.
func notFoundWrapConflict(err error, format string, args ...any) error {
	wrapped := notFoundWrap(err, format, args...)
	if errors.Is(wrapped, domain.ErrNotFound) {
		return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", domain.ErrConflict)
	}
	return wrapped
}
