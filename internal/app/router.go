package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	dashhttp "github.com/pharmalens/pharmalens/internal/dashboard/http"
	"github.com/pharmalens/pharmalens/internal/observability"
	"github.com/pharmalens/pharmalens/internal/platform/httpx"
	"github.com/pharmalens/pharmalens/internal/view"
	"github.com/pharmalens/pharmalens/jobs"
	"github.com/pharmalens/pharmalens/report"
	"github.com/pharmalens/pharmalens/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger    *slog.Logger
	Config    *Config
	Templates *view.Engine
	Dashboard *dashhttp.Handler
	Jobs      *jobs.Handler
	Report    *report.Handler
	Metrics   *observability.Metrics

	// Ready checks the upstream Aggregation Service; nil disables /readyz.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with PharmaLens defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.Ready != nil {
		r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if err := params.Ready(r.Context()); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})

	if params.Dashboard != nil {
		params.Dashboard.MountRoutes(r)
	}
	if params.Jobs != nil {
		r.Route("/jobs", params.Jobs.MountRoutes)
	}
	if params.Report != nil {
		r.Route("/report", params.Report.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler lets browsers cache static assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
