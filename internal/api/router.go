package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events; it also accepts the token
// as ?access_token= since EventSource cannot send headers.
func NewRouter(ws Workspace, idx Index, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ws, idx)

	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		// Templates and watch state.
		r.Get("/templates", h.ListTemplates)
		r.Post("/templates/watch", h.WatchTemplate)
		r.Post("/templates/unwatch", h.UnwatchTemplate)
		r.Get("/preview/*", h.Preview)
		r.Get("/compiles/*", h.GetCompile)

		// Editor notifications and assists.
		r.Put("/documents/*", h.UpdateDocument)
		r.Get("/completion", h.Completion)
		r.Get("/hover", h.Hover)
		r.Get("/diagnostics/*", h.Diagnostics)
		r.Post("/diagnostics/*", h.Diagnostics)

		// References.
		r.Get("/references/search", h.SearchReferences)

		// Settings.
		r.Get("/settings", h.GetSettings)
		r.Put("/settings/representation", h.SetRepresentation)
	})

	if sseHandler != nil {
		r.With(StreamAuthMiddleware(authEnabled, token)).Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
