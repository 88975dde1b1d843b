package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil-eoc/api/routegroups"
	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/incident"
	"vigil-eoc/core/notify"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

// BackgroundWorker is anything the runtime starts alongside the HTTP
// server and stops on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

// ServerDeps carries everything the HTTP layer needs. Composed once at
// boot by appbootstrap.
type ServerDeps struct {
	Cfg            *config.AppConfig
	Logger         *utils.Logger
	Policy         *rbac.Policy
	Engine         *incident.Engine
	Center         *notify.Center
	Users          store.UsersStore
	Sessions       store.SessionsStore
	Audits         store.AuditStore
	SessionManager *auth.SessionManager
}

type Server struct {
	cfg             *config.AppConfig
	logger          *utils.Logger
	policy          *rbac.Policy
	engine          *incident.Engine
	center          *notify.Center
	users           store.UsersStore
	sessions        store.SessionsStore
	audits          store.AuditStore
	sessionManager  *auth.SessionManager
	activityTracker *sessionActivity
	loginLimiter    *requestLimiter
}

func NewServer(deps ServerDeps) *Server {
	burst := 5
	refill := 20 * time.Second
	if deps.Cfg != nil {
		if deps.Cfg.Security.LoginBurst > 0 {
			burst = deps.Cfg.Security.LoginBurst
		}
		if deps.Cfg.Security.LoginRefillSeconds > 0 {
			refill = time.Duration(deps.Cfg.Security.LoginRefillSeconds) * time.Second
		}
	}
	return &Server{
		cfg:             deps.Cfg,
		logger:          deps.Logger,
		policy:          deps.Policy,
		engine:          deps.Engine,
		center:          deps.Center,
		users:           deps.Users,
		sessions:        deps.Sessions,
		audits:          deps.Audits,
		sessionManager:  deps.SessionManager,
		activityTracker: newSessionActivity(),
		loginLimiter:    newLimiter(burst, refill),
	}
}

// Handler assembles the full router: recovery and security headers on
// everything, JSON and response logging on /api, then the route groups.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		apiRouter.Use(s.loggingMiddleware)
		h := s.newRouteHandlers()
		g := s.guards()
		routegroups.RegisterAuth(apiRouter, g, s.rateLimitMiddleware, h.auth)
		routegroups.RegisterIncidents(apiRouter, g, h.incidents)
		routegroups.RegisterNotifications(apiRouter, g, h.notifications)
		routegroups.RegisterLogs(apiRouter, g, h.logs)
		routegroups.RegisterAccounts(apiRouter, g, h.accounts)
	})
	return r
}

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithSession: s.withSession,
		RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc {
			return s.requirePermission(rbac.Permission(p))
		},
	}
}
