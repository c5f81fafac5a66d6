package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/meetupwiki/internal/publishing"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *publishing.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/publish", h.Publish)
	r.Post("/preview", h.Preview)
	r.Get("/runs", h.ListRuns)
	r.Get("/status", h.Status)
	r.Get("/pages", h.ListPages)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
