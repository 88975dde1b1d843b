package store

import (
	"context"
	"strings"
	"time"

	"vigil-eoc/core/utils"
)

// AuditEntry is one line of the global operator audit trail. Action is
// dot-form "section.action" (auth.login, incidents.verify, ...).
type AuditEntry struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

type AuditFilter struct {
	Username string
	Section  string
	Action   string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// AuditStore appends and reads the audit trail. Log is best-effort:
// a write failure is logged and swallowed so it never blocks the
// operation that produced it.
type AuditStore interface {
	Log(ctx context.Context, username, action, details string)
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type auditStore struct {
	db     *DB
	logger *utils.Logger
}

func NewAuditStore(db *DB, logger *utils.Logger) AuditStore {
	return &auditStore{db: db, logger: logger}
}

func (s *auditStore) Log(ctx context.Context, username, action, details string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log(created_at, username, action, details)
		VALUES(?,?,?,?)`,
		time.Now().UTC(), username, action, details)
	if err != nil {
		s.logger.Errorf("audit log write failed (%s): %v", action, err)
	}
}

func (s *auditStore) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, created_at, username, action, details FROM audit_log`
	var (
		conds []string
		args  []any
	)
	if filter.Username != "" {
		conds = append(conds, "username=?")
		args = append(args, filter.Username)
	}
	if filter.Action != "" {
		conds = append(conds, "action=?")
		args = append(args, filter.Action)
	} else if filter.Section != "" {
		conds = append(conds, "action LIKE ?")
		args = append(args, filter.Section+".%")
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *filter.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Username, &e.Action, &e.Details); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
