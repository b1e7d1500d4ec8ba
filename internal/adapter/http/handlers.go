package http

import (
	"io"
	"net/http"

	"github.com/calebhart/stagesync/internal/adapter/ws"
	"github.com/calebhart/stagesync/internal/domain/delivery"
	"github.com/calebhart/stagesync/internal/service"
)

// Handlers bundles the services exposed over HTTP.
type Handlers struct {
	Projects *service.ProjectManagerService
	Webhooks *service.WebhookIngestor
	Hub      *ws.Hub

	// WebhookHeader is the request header carrying the HMAC signature.
	WebhookHeader string
}

// HandleWebhook handles POST /api/v1/webassist/webhook.
// The raw body is read before any decoding because the signature is
// computed over the exact bytes the sender transmitted.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := h.Webhooks.Handle(r.Context(), body, r.Header.Get(h.WebhookHeader)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// GetProjectStatus handles GET /api/v1/webassist/projects/{id}.
func (h *Handlers) GetProjectStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Projects.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListProjectApprovals handles GET /api/v1/webassist/projects/{id}/approvals.
func (h *Handlers) ListProjectApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Projects.Approvals(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if approvals == nil {
		approvals = []delivery.Approval{}
	}
	writeJSON(w, http.StatusOK, approvals)
}

// RespondToApproval handles POST /api/v1/webassist/approvals/{id}.
func (h *Handlers) RespondToApproval(w http.ResponseWriter, r *http.Request) {
	decision, ok := readJSON[delivery.ApprovalDecision](w, r)
	if !ok {
		return
	}
	if _, valid := delivery.ParseApprovalStatus(string(decision.Status)); !valid {
		writeError(w, http.StatusBadRequest, "unknown approval status")
		return
	}

	if err := h.Projects.HandleApprovalResponse(r.Context(), urlParam(r, "id"), decision); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// TriggerSync handles POST /api/v1/webassist/projects/{id}/sync.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.Projects.SyncNow(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
