package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/domain/task"
	"github.com/calebhart/stagesync/internal/middleware"
	"github.com/calebhart/stagesync/internal/port/database"
	"github.com/calebhart/stagesync/internal/port/remote"
	"github.com/calebhart/stagesync/internal/port/scaffold"
	"github.com/calebhart/stagesync/internal/service"
)

const testSecret = "router-test-secret"

var (
	_ database.Store        = (*stubStore)(nil)
	_ remote.Client         = (*stubRemote)(nil)
	_ scaffold.Bootstrapper = (*stubScaffold)(nil)
)

// stubStore is a minimal in-memory store for router tests.
type stubStore struct {
	mu        sync.Mutex
	projects  map[string]*delivery.Project
	approvals map[string]*delivery.Approval
	tasks     map[string]*task.Task
}

func newStubStore() *stubStore {
	return &stubStore{
		projects:  make(map[string]*delivery.Project),
		approvals: make(map[string]*delivery.Approval),
		tasks:     make(map[string]*task.Task),
	}
}

func (s *stubStore) CreateDeliveryProject(_ context.Context, p *delivery.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.RemoteProjectID == p.RemoteProjectID {
			return fmt.Errorf("remote project %s: %w", p.RemoteProjectID, domain.ErrConflict)
		}
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *stubStore) GetDeliveryProject(_ context.Context, id string) (*delivery.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) GetDeliveryProjectByRemoteID(_ context.Context, remoteID string) (*delivery.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.RemoteProjectID == remoteID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) GetDeliveryProjectByLocalID(_ context.Context, localID string) (*delivery.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.LocalProjectID == localID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) ListDeliveryProjects(_ context.Context) ([]delivery.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Project
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (s *stubStore) UpdateDeliveryStage(_ context.Context, id string, st stage.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CurrentStage = st
	p.LastSyncedAt = time.Now().UTC()
	return nil
}

func (s *stubStore) UpdateDeliverySyncStatus(_ context.Context, id string, status delivery.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SyncStatus = status
	return nil
}

func (s *stubStore) CreateApproval(_ context.Context, a *delivery.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

func (s *stubStore) GetApproval(_ context.Context, id string) (*delivery.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.approvals[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) GetApprovalByRemoteID(_ context.Context, remoteID string) (*delivery.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if a.RemoteID == remoteID && remoteID != "" {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) FindPendingApproval(_ context.Context, projectID string, st stage.Stage) (*delivery.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approvals {
		if a.ProjectID == projectID && a.Stage == st && a.Status == delivery.ApprovalPending {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) ListApprovalsByProject(_ context.Context, projectID string) ([]delivery.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Approval
	for _, a := range s.approvals {
		if a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *stubStore) ListPendingBoundApprovals(_ context.Context) ([]delivery.Approval, error) {
	return nil, nil
}

func (s *stubStore) UpdateApprovalStatus(_ context.Context, id string, status delivery.ApprovalStatus, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.ClientFeedback = feedback
	a.RespondedAt = time.Now().UTC()
	return nil
}

func (s *stubStore) BindApprovalRemoteID(_ context.Context, id, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.RemoteID = remoteID
	return nil
}

func (s *stubStore) CreateLocalProject(_ context.Context, _ *task.LocalProject) error { return nil }

func (s *stubStore) GetLocalProject(_ context.Context, id string) (*task.LocalProject, error) {
	return nil, domain.ErrNotFound
}

func (s *stubStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &task.Task{ID: uuid.NewString(), ProjectID: req.ProjectID, Title: req.Title, Status: task.StatusTodo}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *stubStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

// stubRemote accepts every call.
type stubRemote struct{}

func (stubRemote) CreateActivity(context.Context, remote.Activity) error { return nil }
func (stubRemote) UpdateProjectStage(context.Context, string, stage.Stage, int) error {
	return nil
}
func (stubRemote) CreateApproval(context.Context, string, string, string, string, []delivery.Deliverable) (string, error) {
	return "rem-appr-1", nil
}
func (stubRemote) UpdateApproval(context.Context, string, delivery.ApprovalStatus, string) error {
	return nil
}
func (stubRemote) CreateProjectRecord(context.Context, string, string) error { return nil }
func (stubRemote) UpdateProjectRecord(context.Context, string, stage.Stage, int) error {
	return nil
}
func (stubRemote) CreateTaskRecord(context.Context, remote.TaskRecord) error { return nil }
func (stubRemote) UpdateTaskRecord(context.Context, string, int, string) error {
	return nil
}
func (stubRemote) CreateDeliverable(context.Context, string, stage.Stage, delivery.Deliverable) error {
	return nil
}
func (stubRemote) GetProject(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (stubRemote) GetWizardCompletion(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{"business_name":"Acme","industry":"food"}`), nil
}

type stubScaffold struct{}

func (stubScaffold) Bootstrap(_ context.Context, remoteProjectID string) (string, error) {
	return "/tmp/projects/" + remoteProjectID, nil
}

func newTestRouter(t *testing.T) (*chi.Mux, *stubStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := newStubStore()
	rc := stubRemote{}

	approvals := service.NewApprovalSync(store, rc, logger)
	executor := service.NewStageExecutor(store, rc, approvals, logger)
	projects := service.NewProjectManager(store, rc, stubScaffold{}, executor, approvals, logger)
	webhooks := service.NewWebhookIngestor(projects, testSecret, logger)

	r := chi.NewRouter()
	MountRoutes(r, &Handlers{
		Projects:      projects,
		Webhooks:      webhooks,
		WebhookHeader: "X-Webhook-Signature",
	})
	return r, store
}

func seedProject(store *stubStore, current stage.Stage) *delivery.Project {
	mapping := make(map[stage.Stage]string, stage.Count)
	localProjectID := uuid.NewString()
	for i, st := range stage.All() {
		tk := &task.Task{
			ID:        uuid.NewString(),
			ProjectID: localProjectID,
			Title:     fmt.Sprintf("Stage %d: %s", i+1, stage.DisplayName(st)),
			Status:    task.StatusTodo,
		}
		if stage.Index(st) < stage.Index(current) {
			tk.Status = task.StatusDone
		}
		store.tasks[tk.ID] = tk
		mapping[st] = tk.ID
	}
	p := &delivery.Project{
		ID:              uuid.NewString(),
		RemoteProjectID: "rem-" + localProjectID[:8],
		LocalProjectID:  localProjectID,
		CurrentStage:    current,
		StageTaskMap:    mapping,
		SyncStatus:      delivery.SyncActive,
	}
	store.projects[p.ID] = p
	return p
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWebhookEndpoint_SignedProjectCreated(t *testing.T) {
	r, store := newTestRouter(t)
	body := []byte(`{"event":"project.created","project_id":"rem-1","project_number":"P-0001","wizard_completion_id":"wiz-1","company_name":"Acme"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webassist/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", middleware.Signature(body, testSecret))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := store.GetDeliveryProjectByRemoteID(context.Background(), "rem-1"); err != nil {
		t.Errorf("project was not created: %v", err)
	}
}

func TestWebhookEndpoint_BadSignature(t *testing.T) {
	r, _ := newTestRouter(t)
	body := []byte(`{"event":"project.created","project_id":"rem-1","wizard_completion_id":"wiz-1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webassist/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", middleware.Signature(body, "other-secret"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookEndpoint_MalformedBody(t *testing.T) {
	r, _ := newTestRouter(t)
	body := []byte(`{broken`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webassist/webhook", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", middleware.Signature(body, testSecret))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetProjectStatus(t *testing.T) {
	r, store := newTestRouter(t)
	p := seedProject(store, stage.Development)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webassist/projects/"+p.ID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var status service.ProjectStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if status.Project.ID != p.ID {
		t.Errorf("project id = %s, want %s", status.Project.ID, p.ID)
	}
	if len(status.Stages) != stage.Count {
		t.Errorf("got %d stages, want %d", len(status.Stages), stage.Count)
	}
}

func TestGetProjectStatus_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webassist/projects/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListProjectApprovals_EmptyIsArray(t *testing.T) {
	r, store := newTestRouter(t)
	p := seedProject(store, stage.InitialReview)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/webassist/projects/"+p.ID+"/approvals", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestRespondToApproval_Lifecycle(t *testing.T) {
	r, store := newTestRouter(t)
	p := seedProject(store, stage.DesignMockup)
	a := &delivery.Approval{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Stage:     stage.DesignMockup,
		Status:    delivery.ApprovalPending,
	}
	store.approvals[a.ID] = a

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webassist/approvals/"+a.ID, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{"status":"weird"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status accepted: %d", rec.Code)
	}
	if rec := post(`{"status":"approved","feedback":"great"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// A second decision on the same approval conflicts.
	if rec := post(`{"status":"rejected"}`); rec.Code != http.StatusConflict {
		t.Fatalf("replayed decision status = %d, want 409", rec.Code)
	}

	got, _ := store.GetDeliveryProject(context.Background(), p.ID)
	if got.CurrentStage != stage.ContentCollection {
		t.Errorf("current stage = %s, want %s", got.CurrentStage, stage.ContentCollection)
	}
}

func TestTriggerSync(t *testing.T) {
	r, store := newTestRouter(t)
	p := seedProject(store, stage.QualityAssurance)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webassist/projects/"+p.ID+"/sync", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got, _ := store.GetDeliveryProject(context.Background(), p.ID)
	if got.LastSyncedAt.IsZero() {
		t.Error("last_synced_at not stamped")
	}
}
