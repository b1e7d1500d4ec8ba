package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/port/broadcast"
	"github.com/calebhart/stagesync/internal/port/database"
)

// StatusWatcher polls a project's stage and sync status and broadcasts
// a change event when either moves. It is read-only; state transitions
// happen elsewhere and the watcher merely reports them to subscribers.
type StatusWatcher struct {
	store    database.Store
	hub      broadcast.Broadcaster
	interval time.Duration
	logger   *slog.Logger
}

// NewStatusWatcher creates a new StatusWatcher.
func NewStatusWatcher(store database.Store, hub broadcast.Broadcaster, interval time.Duration, logger *slog.Logger) *StatusWatcher {
	return &StatusWatcher{store: store, hub: hub, interval: interval, logger: logger}
}

// Watch observes one project until the context is cancelled or the
// project disappears. It blocks; run it in its own goroutine.
func (w *StatusWatcher) Watch(ctx context.Context, projectID string) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var lastStage string
	var lastSync delivery.SyncStatus

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p, err := w.store.GetDeliveryProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				w.logger.Info("watched project gone, stopping", "project_id", projectID)
				return nil
			}
			w.logger.Warn("status poll failed", "project_id", projectID, "error", err)
			continue
		}

		if p.CurrentStage.String() == lastStage && p.SyncStatus == lastSync {
			continue
		}
		lastStage = p.CurrentStage.String()
		lastSync = p.SyncStatus

		w.hub.BroadcastEvent(ctx, ws.EventProjectStatus, ws.ProjectStatusEvent{
			ProjectID:    p.ID,
			CurrentStage: lastStage,
			SyncStatus:   string(lastSync),
		})
	}
}

type statusSnapshot struct {
	stage string
	sync  delivery.SyncStatus
}

// WatchAll observes every tracked project from a single goroutine,
// picking up projects created after it started. It blocks until the
// context is cancelled.
func (w *StatusWatcher) WatchAll(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	seen := make(map[string]statusSnapshot)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		projects, err := w.store.ListDeliveryProjects(ctx)
		if err != nil {
			w.logger.Warn("status poll failed", "error", err)
			continue
		}

		for i := range projects {
			p := &projects[i]
			cur := statusSnapshot{stage: p.CurrentStage.String(), sync: p.SyncStatus}
			if prev, ok := seen[p.ID]; ok && prev == cur {
				continue
			}
			seen[p.ID] = cur
			w.hub.BroadcastEvent(ctx, ws.EventProjectStatus, ws.ProjectStatusEvent{
				ProjectID:    p.ID,
				CurrentStage: cur.stage,
				SyncStatus:   string(cur.sync),
			})
		}
	}
}
