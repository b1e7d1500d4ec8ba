package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/port/broadcast"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/messagequeue"
	"github.com/calebhart/stagesync/internal/port/remote"
	"github.com/calebhart/stagesync/internal/port/scaffold"
)

var (
	_ database.Store        = (*mockStore)(nil)
	_ remote.Client         = (*mockRemote)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ scaffold.Bootstrapper = (*mockScaffold)(nil)
)

// mockStore is an in-memory database.Store with per-method error
// injection, shared by every test in this package.
type mockStore struct {
	mu            sync.Mutex
	projects      map[string]*delivery.Project
	approvals     map[string]*delivery.Approval
	localProjects map[string]*task.LocalProject
	tasks         map[string]*task.Task

	createTaskErr     error
	createProjectErr  error
	updateStageErr    error
	updateApprovalErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:      make(map[string]*delivery.Project),
		approvals:     make(map[string]*delivery.Approval),
		localProjects: make(map[string]*task.LocalProject),
		tasks:         make(map[string]*task.Task),
	}
}

func (m *mockStore) CreateDeliveryProject(_ context.Context, p *delivery.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createProjectErr != nil {
		return m.createProjectErr
	}
	for _, existing := range m.projects {
		if existing.RemoteProjectID == p.RemoteProjectID {
			return fmt.Errorf("remote project %s: %w", p.RemoteProjectID, domain.ErrConflict)
		}
	}
	cp := *p
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) GetDeliveryProject(_ context.Context, id string) (*delivery.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetDeliveryProjectByRemoteID(_ context.Context, remoteID string) (*delivery.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.RemoteProjectID == remoteID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("remote project %s: %w", remoteID, domain.ErrNotFound)
}

func (m *mockStore) GetDeliveryProjectByLocalID(_ context.Context, localID string) (*delivery.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.projects {
		if p.LocalProjectID == localID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("local project %s: %w", localID, domain.ErrNotFound)
}

func (m *mockStore) ListDeliveryProjects(_ context.Context) ([]delivery.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []delivery.Project
	for _, p := range m.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockStore) UpdateDeliveryStage(_ context.Context, id string, s stage.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStageErr != nil {
		return m.updateStageErr
	}
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	p.CurrentStage = s
	p.LastSyncedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) UpdateDeliverySyncStatus(_ context.Context, id string, status delivery.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	p.SyncStatus = status
	return nil
}

func (m *mockStore) CreateApproval(_ context.Context, a *delivery.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.approvals {
		if existing.ProjectID == a.ProjectID && existing.Stage == a.Stage && existing.Status == delivery.ApprovalPending {
			return fmt.Errorf("pending approval for %s/%s: %w", a.ProjectID, a.Stage, domain.ErrConflict)
		}
	}
	cp := *a
	m.approvals[a.ID] = &cp
	return nil
}

func (m *mockStore) GetApproval(_ context.Context, id string) (*delivery.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetApprovalByRemoteID(_ context.Context, remoteID string) (*delivery.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.RemoteID == remoteID && remoteID != "" {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("remote approval %s: %w", remoteID, domain.ErrNotFound)
}

func (m *mockStore) FindPendingApproval(_ context.Context, projectID string, s stage.Stage) (*delivery.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.ProjectID == projectID && a.Stage == s && a.Status == delivery.ApprovalPending {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("pending approval %s/%s: %w", projectID, s, domain.ErrNotFound)
}

func (m *mockStore) ListApprovalsByProject(_ context.Context, projectID string) ([]delivery.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []delivery.Approval
	for _, a := range m.approvals {
		if a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) ListPendingBoundApprovals(_ context.Context) ([]delivery.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []delivery.Approval
	for _, a := range m.approvals {
		if a.Status == delivery.ApprovalPending && a.RemoteID != "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateApprovalStatus(_ context.Context, id string, status delivery.ApprovalStatus, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateApprovalErr != nil {
		return m.updateApprovalErr
	}
	a, ok := m.approvals[id]
	if !ok {
		return fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	a.Status = status
	a.ClientFeedback = feedback
	a.RespondedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) BindApprovalRemoteID(_ context.Context, id, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	a.RemoteID = remoteID
	return nil
}

func (m *mockStore) CreateLocalProject(_ context.Context, p *task.LocalProject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.localProjects[p.ID] = &cp
	return nil
}

func (m *mockStore) GetLocalProject(_ context.Context, id string) (*task.LocalProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.localProjects[id]
	if !ok {
		return nil, fmt.Errorf("local project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createTaskErr != nil {
		return nil, m.createTaskErr
	}
	t := &task.Task{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      task.StatusTodo,
		CreatedAt:   time.Now().UTC(),
	}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// seedProject inserts a tracked project with one task per stage and
// returns it. Tasks up to but not including currentStage are done; the
// current stage's task is in progress.
func (m *mockStore) seedProject(remoteID string, current stage.Stage) *delivery.Project {
	mapping := make(map[stage.Stage]string, stage.Count)
	localProjectID := uuid.NewString()
	for i, st := range stage.All() {
		t := &task.Task{
			ID:        uuid.NewString(),
			ProjectID: localProjectID,
			Title:     fmt.Sprintf("Stage %d: %s", i+1, stage.DisplayName(st)),
			Status:    task.StatusTodo,
		}
		if stage.Index(st) < stage.Index(current) {
			t.Status = task.StatusDone
		} else if st == current {
			t.Status = task.StatusInProgress
		}
		m.tasks[t.ID] = t
		mapping[st] = t.ID
	}
	p := &delivery.Project{
		ID:              uuid.NewString(),
		RemoteProjectID: remoteID,
		LocalProjectID:  localProjectID,
		CurrentStage:    current,
		StageTaskMap:    mapping,
		SyncStatus:      delivery.SyncActive,
	}
	m.projects[p.ID] = p
	m.localProjects[localProjectID] = &task.LocalProject{ID: localProjectID, Name: remoteID}
	return p
}

// remoteCall records one outbound call to the mock remote client.
type remoteCall struct {
	op   string
	args []any
}

// mockRemote is a remote.Client that records calls and injects errors.
type mockRemote struct {
	mu    sync.Mutex
	calls []remoteCall

	wizard           json.RawMessage
	wizardErr        error
	approvalRemoteID string
	createApprErr    error
	errAll           error
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		wizard:           json.RawMessage(`{"business_name":"Acme Bakery","industry":"food","target_audience":"locals"}`),
		approvalRemoteID: "rem-appr-1",
	}
}

func (m *mockRemote) record(op string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, remoteCall{op: op, args: args})
}

func (m *mockRemote) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (m *mockRemote) lastCall(op string) (remoteCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].op == op {
			return m.calls[i], true
		}
	}
	return remoteCall{}, false
}

func (m *mockRemote) CreateActivity(_ context.Context, a remote.Activity) error {
	m.record("CreateActivity", a)
	return m.errAll
}

func (m *mockRemote) UpdateProjectStage(_ context.Context, remoteProjectID string, s stage.Stage, progress int) error {
	m.record("UpdateProjectStage", remoteProjectID, s, progress)
	return m.errAll
}

func (m *mockRemote) CreateApproval(_ context.Context, remoteProjectID, remoteStageID, approvalType, previewURL string, deliverables []delivery.Deliverable) (string, error) {
	m.record("CreateApproval", remoteProjectID, remoteStageID, approvalType, previewURL, deliverables)
	if m.createApprErr != nil {
		return "", m.createApprErr
	}
	if m.errAll != nil {
		return "", m.errAll
	}
	return m.approvalRemoteID, nil
}

func (m *mockRemote) UpdateApproval(_ context.Context, remoteApprovalID string, status delivery.ApprovalStatus, feedback string) error {
	m.record("UpdateApproval", remoteApprovalID, status, feedback)
	return m.errAll
}

func (m *mockRemote) CreateProjectRecord(_ context.Context, remoteProjectID, localProjectID string) error {
	m.record("CreateProjectRecord", remoteProjectID, localProjectID)
	return m.errAll
}

func (m *mockRemote) UpdateProjectRecord(_ context.Context, localProjectID string, s stage.Stage, overallProgress int) error {
	m.record("UpdateProjectRecord", localProjectID, s, overallProgress)
	return m.errAll
}

func (m *mockRemote) CreateTaskRecord(_ context.Context, rec remote.TaskRecord) error {
	m.record("CreateTaskRecord", rec)
	return m.errAll
}

func (m *mockRemote) UpdateTaskRecord(_ context.Context, taskID string, progress int, status string) error {
	m.record("UpdateTaskRecord", taskID, progress, status)
	return m.errAll
}

func (m *mockRemote) CreateDeliverable(_ context.Context, localProjectID string, s stage.Stage, d delivery.Deliverable) error {
	m.record("CreateDeliverable", localProjectID, s, d)
	return m.errAll
}

func (m *mockRemote) GetProject(_ context.Context, remoteProjectID string) (json.RawMessage, error) {
	m.record("GetProject", remoteProjectID)
	return json.RawMessage(`{}`), m.errAll
}

func (m *mockRemote) GetWizardCompletion(_ context.Context, id string) (json.RawMessage, error) {
	m.record("GetWizardCompletion", id)
	if m.wizardErr != nil {
		return nil, m.wizardErr
	}
	return m.wizard, nil
}

// mockQueue is a messagequeue.Queue that captures publishes and lets
// tests deliver messages to the subscribed handler directly.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[subject] = append(m.published[subject], data)
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = handler
	return func() {}, nil
}

func (m *mockQueue) deliver(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	h := m.handlers[subject]
	m.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", subject)
	}
	return h(ctx, subject, data)
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

// broadcastCall records one event sent through the mock broadcaster.
type broadcastCall struct {
	eventType string
	payload   any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastCall
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastCall{eventType: eventType, payload: payload})
}

func (m *mockBroadcaster) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.eventType
	}
	return out
}

// mockScaffold is a scaffold.Bootstrapper returning a fixed directory.
type mockScaffold struct {
	mu    sync.Mutex
	calls []string
	dir   string
	err   error
}

func (m *mockScaffold) Bootstrap(_ context.Context, remoteProjectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, remoteProjectID)
	if m.err != nil {
		return "", m.err
	}
	if m.dir == "" {
		return "/tmp/projects/" + remoteProjectID, nil
	}
	return m.dir, nil
}
