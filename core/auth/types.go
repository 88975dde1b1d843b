package auth

import (
	"context"
	"time"
)

// Session is the resolved runtime view of one authenticated browser
// session. Roles come from the user row on every resolve, so a role
// change applies without re-login.
type Session struct {
	ID         string
	UserID     int64
	Email      string
	Name       string
	Roles      []string
	IP         string
	UserAgent  string
	CSRFToken  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Credentials is the login payload. The rate limiter also decodes it
// to key attempts per account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type contextKey string

// SessionContextKey carries the resolved *Session through a request.
const SessionContextKey contextKey = "vigil.session"

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}

// FromContext returns the request session, or nil on unauthenticated
// requests.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(SessionContextKey).(*Session)
	return s
}
