package dashhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes attaches the dashboard endpoints to the router. Export
// downloads share a tighter rate limit keyed by session.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}

	r.Get("/dashboard", h.handleDashboard)
	r.Post("/dashboard/filters", h.handleApplyFilters)
	r.Post("/dashboard/view", h.handleSwitchView)
	r.Post("/dashboard/reset", h.handleReset)
	r.Post("/dashboard/reload", h.handleReload)
	r.Get("/dashboard/state.json", h.handleState)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			10,
			time.Minute,
			httprate.WithKeyFuncs(rateLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Límite de descargas alcanzado, intente más tarde", http.StatusTooManyRequests)
			}),
		))
		r.Get("/dashboard/export.csv", h.handleCSV)
		r.Get("/dashboard/export.xlsx", h.handleXLSX)
		r.Get("/dashboard/export.pdf", h.handlePDF)
	})
}

// rateLimitKey buckets export downloads per session, falling back to the
// client IP before a session cookie exists.
func rateLimitKey(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return httprate.KeyByIP(r)
}
