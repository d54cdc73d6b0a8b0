package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/meridian-qms/meridian/internal/audit"
	"github.com/meridian-qms/meridian/internal/auth"
	"github.com/meridian-qms/meridian/internal/observability"
	"github.com/meridian-qms/meridian/internal/rbac"
	"github.com/meridian-qms/meridian/internal/shared"
	"github.com/meridian-qms/meridian/internal/signature"
	"github.com/meridian-qms/meridian/internal/users"
	"github.com/meridian-qms/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	AuthHandler      *auth.Handler
	RBACHandler      *rbac.Handler
	RBACMiddleware   rbac.Middleware
	Impersonation    *rbac.ImpersonationHandler
	AuditHandler     *audit.Handler
	UsersHandler     *users.Handler
	SignatureHandler *signature.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/rbac", func(r chi.Router) {
		params.RBACHandler.MountRoutes(r, params.RBACMiddleware)
	})

	if params.Impersonation != nil {
		r.Route("/impersonations", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAll(shared.PermImpersonate))
			params.Impersonation.MountRoutes(r)
		})
	}

	if params.UsersHandler != nil {
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(shared.PermUsersView, shared.PermUsersEdit))
				r.Get("/", params.UsersHandler.MountListRoute)
			})
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(shared.PermUsersEdit))
				params.UsersHandler.MountEditRoutes(r)
			})
		})
	}

	if params.SignatureHandler != nil {
		params.SignatureHandler.MountRoutes(r)
	}

	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(shared.PermAuditView, shared.PermAuditExport))
				params.AuditHandler.MountRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(shared.PermAuditExport))
				// Exports walk whole trails; keep them rare per client.
				r.Use(httprate.Limit(5, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
				r.Get("/{flavor}/export", params.AuditHandler.ExportHandler())
			})
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(shared.PermAuditView, shared.PermAuditExport))
				params.AuditHandler.MountAdminRoutes(r)
			})
		})
	}

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
