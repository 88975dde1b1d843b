package routegroups

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vigil-eoc/api/handlers"
)

// RegisterAuth mounts the login/session routes. Login is the only
// unauthenticated endpoint and carries its own rate limit.
func RegisterAuth(apiRouter chi.Router, g Guards, rateLimitLogin func(http.HandlerFunc) http.HandlerFunc, auth *handlers.AuthHandler) {
	apiRouter.Route("/auth", func(authRouter chi.Router) {
		authRouter.MethodFunc("POST", "/login", rateLimitLogin(auth.Login))
		authRouter.MethodFunc("POST", "/logout", g.Session(auth.Logout))
		authRouter.MethodFunc("GET", "/me", g.Session(auth.Me))
		authRouter.MethodFunc("POST", "/ping", g.Session(auth.Ping))
	})
}
