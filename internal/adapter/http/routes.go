package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the control surface on r. idempotency wraps the
// mutating workflow routes and may be nil.
func MountRoutes(r chi.Router, h *Handlers, idempotency func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
		r.Get("/ws/workflows/{id}/review", h.ServeReviewChannel)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/pipelines", h.ListPipelines)

		r.Route("/workflows", func(r chi.Router) {
			if idempotency != nil {
				r.Use(idempotency)
			}
			r.Post("/", h.StartWorkflow)
			r.Get("/", h.ListWorkflows)
			r.Get("/{id}", h.GetWorkflow)
			r.Post("/{id}/cancel", h.CancelWorkflow)
			r.Get("/{id}/review", h.GetReview)
			r.Post("/{id}/review", h.SubmitReview)
			r.Get("/{id}/events", h.ListWorkflowEvents)
		})
	})
}
