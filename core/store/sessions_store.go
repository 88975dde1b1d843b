package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Session struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	CSRFToken      string    `json:"-"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type SessionsStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, lastActivity, expires time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	ListSessions(ctx context.Context) ([]Session, error)
}

type sessionsStore struct {
	db *DB
}

func NewSessionsStore(db *DB) SessionsStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, csrf_token, ip, user_agent, created_at, last_activity_at, expires_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.CSRFToken, sess.IP, sess.UserAgent,
		sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt)
	return err
}

func (s *sessionsStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, csrf_token, ip, user_agent, created_at, last_activity_at, expires_at
		FROM sessions WHERE id=?`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CSRFToken, &sess.IP, &sess.UserAgent,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionsStore) TouchSession(ctx context.Context, id string, lastActivity, expires time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at=?, expires_at=? WHERE id=?`,
		lastActivity, expires, id)
	return err
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (s *sessionsStore) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *sessionsStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *sessionsStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, csrf_token, ip, user_agent, created_at, last_activity_at, expires_at
		FROM sessions ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.CSRFToken, &sess.IP, &sess.UserAgent,
			&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}
