package routegroups

import "net/http"

// Guards carries the middleware hooks route groups need so the group
// files stay free of server internals. WithSession authenticates the
// request, RequirePermission gates it on a named permission.
type Guards struct {
	WithSession       func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(string) func(http.HandlerFunc) http.HandlerFunc
}

// SessionPerm wraps a handler in session resolution followed by a
// permission check, the standard stack for authenticated API routes.
func (g Guards) SessionPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(h))
}

// Session wraps a handler in session resolution only, for routes every
// authenticated user may call.
func (g Guards) Session(h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(h)
}
