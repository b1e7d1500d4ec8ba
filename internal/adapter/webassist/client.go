// Package webassist provides an HTTP client for the client-facing backend's
// PostgREST-style API. Local state is authoritative; every call here is a
// best-effort mirror and failures surface as domain.RemoteError.
package webassist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebhart/stagesync/internal/config"
	"github.com/calebhart/stagesync/internal/domain"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/domain/stage"
	"github.com/calebhart/stagesync/internal/port/cache"
	"github.com/calebhart/stagesync/internal/port/remote"
	"github.com/calebhart/stagesync/internal/resilience"
)

const (
	preferMinimal        = "return=minimal"
	preferRepresentation = "return=representation"

	defaultCacheTTL = 5 * time.Minute
)

// Client talks to the remote backend's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	serviceKey string
	httpClient *http.Client
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
}

// NewClient creates a remote backend client from config.
func NewClient(cfg config.Remote) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetCache attaches a read cache for wizard completion lookups. A
// non-positive ttl falls back to the default entry lifetime.
func (c *Client) SetCache(cc cache.Cache, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c.cache = cc
	c.cacheTTL = ttl
}

// authToken returns the bearer token, preferring the service credential
// over the restricted API key when both are configured.
func (c *Client) authToken() string {
	if c.serviceKey != "" {
		return c.serviceKey
	}
	return c.apiKey
}

// CreateActivity posts an entry to the remote project's client-visible feed.
func (c *Client) CreateActivity(ctx context.Context, a remote.Activity) error {
	payload := map[string]any{
		"project_id":           a.ProjectID,
		"update_type":          a.UpdateType,
		"title":                a.Title,
		"message":              a.Message,
		"created_by":           "team:stagesync",
		"is_visible_to_client": true,
	}
	if a.Metadata != nil {
		payload["metadata"] = a.Metadata
	}

	_, err := c.do(ctx, http.MethodPost, "/rest/v1/project_updates", preferMinimal, payload)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

// UpdateProjectStage patches the remote project's stage and progress.
func (c *Client) UpdateProjectStage(ctx context.Context, remoteProjectID string, s stage.Stage, progress int) error {
	payload := map[string]any{
		"current_stage":  s,
		"stage_progress": progress,
		"updated_at":     time.Now().UTC().Format(time.RFC3339),
	}

	path := "/rest/v1/projects?id=eq." + remoteProjectID
	if _, err := c.do(ctx, http.MethodPatch, path, preferMinimal, payload); err != nil {
		return fmt.Errorf("update project stage: %w", err)
	}
	return nil
}

// CreateApproval creates an approval request and returns its remote id.
func (c *Client) CreateApproval(ctx context.Context, remoteProjectID, remoteStageID, approvalType, previewURL string, deliverables []delivery.Deliverable) (string, error) {
	attachments := deliverables
	if attachments == nil {
		attachments = []delivery.Deliverable{}
	}
	payload := map[string]any{
		"project_id":    remoteProjectID,
		"stage_id":      remoteStageID,
		"approval_type": approvalType,
		"status":        "pending",
		"requested_by":  "team:stagesync",
		"attachments":   attachments,
	}
	if previewURL != "" {
		payload["preview_url"] = previewURL
	}

	body, err := c.do(ctx, http.MethodPost, "/rest/v1/project_approvals", preferRepresentation, payload)
	if err != nil {
		return "", fmt.Errorf("create approval: %w", err)
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("create approval: parse response: %w", err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return "", fmt.Errorf("create approval: empty response: %w", domain.ErrRemoteFetch)
	}
	return rows[0].ID, nil
}

// UpdateApproval patches the remote approval's status and feedback.
func (c *Client) UpdateApproval(ctx context.Context, remoteApprovalID string, status delivery.ApprovalStatus, feedback string) error {
	payload := map[string]any{
		"status":       status,
		"responded_at": time.Now().UTC().Format(time.RFC3339),
	}
	if feedback != "" {
		payload["client_feedback"] = feedback
	}

	path := "/rest/v1/project_approvals?id=eq." + remoteApprovalID
	if _, err := c.do(ctx, http.MethodPatch, path, preferMinimal, payload); err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	return nil
}

// CreateProjectRecord creates the remote sync-link record for a project pair.
func (c *Client) CreateProjectRecord(ctx context.Context, remoteProjectID, localProjectID string) error {
	payload := map[string]any{
		"remote_project_id": remoteProjectID,
		"local_project_id":  localProjectID,
		"current_stage":     stage.First(),
		"sync_status":       "active",
		"overall_progress":  0,
	}

	if _, err := c.do(ctx, http.MethodPost, "/rest/v1/sync_projects", preferMinimal, payload); err != nil {
		return fmt.Errorf("create project record: %w", err)
	}
	return nil
}

// UpdateProjectRecord patches the sync-link record's stage and progress.
func (c *Client) UpdateProjectRecord(ctx context.Context, localProjectID string, s stage.Stage, overallProgress int) error {
	payload := map[string]any{
		"current_stage":    s,
		"overall_progress": overallProgress,
		"sync_status":      "active",
	}

	path := "/rest/v1/sync_projects?local_project_id=eq." + localProjectID
	if _, err := c.do(ctx, http.MethodPatch, path, preferMinimal, payload); err != nil {
		return fmt.Errorf("update project record: %w", err)
	}
	return nil
}

// CreateTaskRecord mirrors one local task into the remote task table.
func (c *Client) CreateTaskRecord(ctx context.Context, rec remote.TaskRecord) error {
	payload := map[string]any{
		"local_project_id": rec.LocalProjectID,
		"task_id":          rec.TaskID,
		"stage_name":       rec.Stage,
		"stage_order":      rec.StageOrder,
		"status":           rec.Status,
		"progress":         rec.Progress,
	}

	if _, err := c.do(ctx, http.MethodPost, "/rest/v1/sync_tasks", preferMinimal, payload); err != nil {
		return fmt.Errorf("create task record: %w", err)
	}
	return nil
}

// UpdateTaskRecord patches a mirrored task's status and progress.
// Status transitions also stamp started_at/completed_at.
func (c *Client) UpdateTaskRecord(ctx context.Context, taskID string, progress int, status string) error {
	payload := map[string]any{
		"status":   status,
		"progress": progress,
	}
	switch status {
	case "InProgress":
		payload["started_at"] = time.Now().UTC().Format(time.RFC3339)
	case "Done":
		payload["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	path := "/rest/v1/sync_tasks?task_id=eq." + taskID
	if _, err := c.do(ctx, http.MethodPatch, path, preferMinimal, payload); err != nil {
		return fmt.Errorf("update task record: %w", err)
	}
	return nil
}

// CreateDeliverable registers a stage deliverable remotely.
func (c *Client) CreateDeliverable(ctx context.Context, localProjectID string, s stage.Stage, d delivery.Deliverable) error {
	payload := map[string]any{
		"local_project_id": localProjectID,
		"stage_name":       s,
		"name":             d.Name,
		"url":              d.URL,
		"type":             d.Type,
	}
	if d.Size > 0 {
		payload["size_bytes"] = d.Size
	}

	if _, err := c.do(ctx, http.MethodPost, "/rest/v1/sync_deliverables", preferMinimal, payload); err != nil {
		return fmt.Errorf("create deliverable: %w", err)
	}
	return nil
}

// GetProject fetches the remote project row.
func (c *Client) GetProject(ctx context.Context, remoteProjectID string) (json.RawMessage, error) {
	return c.getOne(ctx, "/rest/v1/projects?id=eq."+remoteProjectID, "project "+remoteProjectID)
}

// GetWizardCompletion fetches the client's wizard submission. Reads go
// through the cache when one is attached, since project creation may
// fetch the same completion several times.
func (c *Client) GetWizardCompletion(ctx context.Context, wizardCompletionID string) (json.RawMessage, error) {
	cacheKey := "wizard:" + wizardCompletionID
	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			return json.RawMessage(data), nil
		}
	}

	row, err := c.getOne(ctx, "/rest/v1/wizard_completions?id=eq."+wizardCompletionID, "wizard completion "+wizardCompletionID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, row, c.cacheTTL); err != nil {
			slog.Debug("wizard completion cache set failed", "error", err)
		}
	}
	return row, nil
}

// getOne fetches a PostgREST filtered list and returns its single row.
func (c *Client) getOne(ctx context.Context, path, what string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("get %s: parse response: %w", what, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s: %w", what, domain.ErrNotFound)
	}
	return rows[0], nil
}

// do performs one REST call, optionally through the circuit breaker.
func (c *Client) do(ctx context.Context, method, path, prefer string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.authToken())
		if c.apiKey != "" {
			req.Header.Set("apikey", c.apiKey)
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &domain.RemoteError{Op: method + " " + path, Status: resp.StatusCode, Body: string(data)}
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
