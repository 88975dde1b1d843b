package store

import (
	"context"
	"database/sql"
	"time"

	"vigil-eoc/core/notify"
)

// NotificationsStore mirrors the dashboard notification feed. MarkRead
// is one-way: the guarded UPDATE never clears read_at and re-acking an
// already-read row matches nothing.
type NotificationsStore interface {
	InsertNotification(ctx context.Context, n *notify.Notification) error
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	ListNotifications(ctx context.Context, limit int) ([]notify.Notification, error)
	CountUnread(ctx context.Context) (int, error)
}

type notificationsStore struct {
	db *DB
}

func NewNotificationsStore(db *DB) NotificationsStore {
	return &notificationsStore{db: db}
}

func (s *notificationsStore) InsertNotification(ctx context.Context, n *notify.Notification) error {
	var incidentID any
	if n.IncidentID != 0 {
		incidentID = n.IncidentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications(id, incident_id, kind, title, body, created_at, read_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, incidentID, n.Kind, n.Title, n.Body, n.CreatedAt, n.ReadAt)
	return err
}

func (s *notificationsStore) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=? WHERE id=? AND read_at IS NULL`,
		at, id)
	return err
}

func (s *notificationsStore) ListNotifications(ctx context.Context, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, kind, title, body, created_at, read_at
		FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []notify.Notification
	for rows.Next() {
		var (
			n          notify.Notification
			incidentID sql.NullInt64
			readAt     sql.NullTime
		)
		if err := rows.Scan(&n.ID, &incidentID, &n.Kind, &n.Title, &n.Body, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		if incidentID.Valid {
			n.IncidentID = incidentID.Int64
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
			n.Read = true
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (s *notificationsStore) CountUnread(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE read_at IS NULL`).Scan(&count)
	return count, err
}
