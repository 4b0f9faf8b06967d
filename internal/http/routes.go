package httpapp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Post("/retry", h.RetryFailed)
			r.Post("/clear", h.Clear)
			r.Post("/{type}/{providerID}", h.Enqueue)

			// static action segments win over the enqueue route's {providerID}
			r.Get("/{id}", h.GetItem)
			r.Delete("/{id}", h.RemoveItem)
			r.Post("/{id}/cancel", h.itemAction(h.Service.Cancel))
			r.Post("/{id}/pause", h.itemAction(h.Service.Pause))
			r.Post("/{id}/resume", h.itemAction(h.Service.Resume))
			r.Post("/{id}/retry", h.itemAction(h.Service.Retry))
		})

		r.Put("/engine/concurrency", h.SetConcurrency)
		r.Get("/downloads", h.ListDownloads)
	})
}

// NewRouter builds the server's router with the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	h.RegisterRoutes(r)
	return r
}
