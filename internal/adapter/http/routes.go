package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/webassist", func(r chi.Router) {
		// The webhook verifies its own HMAC over the raw body, so it
		// stays outside any body-consuming middleware.
		r.Post("/webhook", h.HandleWebhook)

		r.Get("/projects/{id}", h.GetProjectStatus)
		r.Get("/projects/{id}/approvals", h.ListProjectApprovals)
		r.Post("/projects/{id}/sync", h.TriggerSync)
		r.Post("/approvals/{id}", h.RespondToApproval)
	})

	if h.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			h.Hub.HandleWS(w, r)
		})
	}
}
