package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"vigil-eoc/config"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

type SessionManager struct {
	sessions store.SessionsStore
	users    store.UsersStore
	cfg      *config.AppConfig
	logger   *utils.Logger
}

func NewSessionManager(sessions store.SessionsStore, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{sessions: sessions, users: users, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, ip, userAgent string) (*Session, error) {
	id := uuid.Must(uuid.NewV4()).String()
	csrf, err := utils.RandString(32)
	if err != nil {
		return nil, err
	}
	now := utils.NowUTC()
	ttl := m.cfg.EffectiveSessionTTL()
	sess := &Session{
		ID:         id,
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.FullName,
		Roles:      append([]string(nil), user.Roles...),
		IP:         ip,
		UserAgent:  userAgent,
		CSRFToken:  csrf,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := m.sessions.CreateSession(ctx, &store.Session{
		ID:             sess.ID,
		UserID:         sess.UserID,
		CSRFToken:      sess.CSRFToken,
		IP:             sess.IP,
		UserAgent:      sess.UserAgent,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastSeenAt,
		ExpiresAt:      sess.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Resolve loads a session by cookie value. Expired or orphaned sessions
// are deleted on sight and resolve to nil, as do sessions of
// deactivated users.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	now := utils.NowUTC()
	if now.After(rec.ExpiresAt) {
		if err := m.sessions.DeleteSession(ctx, id); err != nil {
			m.logger.Errorf("delete expired session: %v", err)
		}
		return nil, nil
	}
	user, err := m.users.GetUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		if err := m.sessions.DeleteSession(ctx, id); err != nil {
			m.logger.Errorf("delete orphaned session: %v", err)
		}
		return nil, nil
	}
	return &Session{
		ID:         rec.ID,
		UserID:     user.ID,
		Email:      user.Email,
		Name:       user.FullName,
		Roles:      user.Roles,
		IP:         rec.IP,
		UserAgent:  rec.UserAgent,
		CSRFToken:  rec.CSRFToken,
		CreatedAt:  rec.CreatedAt,
		LastSeenAt: rec.LastActivityAt,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

// Refresh slides the expiry window forward from now, within the
// configured TTL cap.
func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	now := utils.NowUTC()
	return m.sessions.TouchSession(ctx, sessID, now, now.Add(m.cfg.EffectiveSessionTTL()))
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.sessions.DeleteSession(ctx, sessID)
}

func (m *SessionManager) DeleteForUser(ctx context.Context, userID int64) error {
	_, err := m.sessions.DeleteUserSessions(ctx, userID)
	return err
}

// PurgeExpired drops every session past its expiry. The scheduler runs
// this hourly.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpiredSessions(ctx, utils.NowUTC())
}
