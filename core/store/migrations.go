package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"vigil-eoc/core/utils"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrations is the sqlite schema, applied in order on every start.
// Statements are idempotent; column additions for older database files
// happen in the ensure* steps below.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		failed_logins INTEGER NOT NULL DEFAULT 0,
		locked_until TIMESTAMP,
		last_login_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		csrf_token TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY,
		reg_no TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL DEFAULT 0,
		lon REAL NOT NULL DEFAULT 0,
		area TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		upvotes INTEGER NOT NULL DEFAULT 0,
		reporter_id INTEGER,
		reported_by TEXT NOT NULL DEFAULT '',
		assigned_department TEXT NOT NULL DEFAULT '',
		verified_at TIMESTAMP,
		verified_by INTEGER,
		verified_by_name TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMP,
		duplicate_of INTEGER,
		media TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at)`,
	`CREATE TABLE IF NOT EXISTS incident_notes (
		id INTEGER PRIMARY KEY,
		incident_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL DEFAULT 0,
		author_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_incident ON incident_notes(incident_id)`,
	`CREATE TABLE IF NOT EXISTS incident_activity (
		id INTEGER PRIMARY KEY,
		incident_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL DEFAULT 0,
		user_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_incident ON incident_activity(incident_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_created ON incident_activity(created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		incident_id INTEGER,
		kind TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		read_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at)`,
	`CREATE TABLE IF NOT EXISTS incident_reg_counters (
		year INTEGER PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0
	)`,
}

// ApplyMigrations brings the schema up to date. Postgres goes through
// goose with the embedded SQL; sqlite applies the raw statement list.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db.IsPostgres() {
		return applyGooseMigrations(ctx, db.Unwrap(), logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func applySQLiteMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	post := []func(context.Context, *DB) error{
		ensureUserColumns,
		ensureIncidentColumns,
		ensureNotificationColumns,
	}
	for _, fn := range post {
		if err := fn(ctx, db); err != nil {
			return err
		}
	}
	if logger != nil {
		logger.Printf("sqlite migrations applied")
	}
	return nil
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

type gooseLogger struct {
	logger *utils.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Printf(format, v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Errorf(format, v...)
}

// ensure* steps upgrade database files created before a column existed.

func ensureUserColumns(ctx context.Context, db *DB) error {
	cols := map[string]string{
		"failed_logins": `ALTER TABLE users ADD COLUMN failed_logins INTEGER NOT NULL DEFAULT 0`,
		"locked_until":  `ALTER TABLE users ADD COLUMN locked_until TIMESTAMP`,
		"last_login_at": `ALTER TABLE users ADD COLUMN last_login_at TIMESTAMP`,
	}
	return addMissingColumns(ctx, db, "users", cols)
}

func ensureIncidentColumns(ctx context.Context, db *DB) error {
	cols := map[string]string{
		"resolved_at":  `ALTER TABLE incidents ADD COLUMN resolved_at TIMESTAMP`,
		"duplicate_of": `ALTER TABLE incidents ADD COLUMN duplicate_of INTEGER`,
		"media":        `ALTER TABLE incidents ADD COLUMN media TEXT NOT NULL DEFAULT '[]'`,
		"version":      `ALTER TABLE incidents ADD COLUMN version INTEGER NOT NULL DEFAULT 0`,
	}
	return addMissingColumns(ctx, db, "incidents", cols)
}

func ensureNotificationColumns(ctx context.Context, db *DB) error {
	cols := map[string]string{
		"read_at": `ALTER TABLE notifications ADD COLUMN read_at TIMESTAMP`,
	}
	return addMissingColumns(ctx, db, "notifications", cols)
}

func addMissingColumns(ctx context.Context, db *DB, table string, cols map[string]string) error {
	for name, stmt := range cols {
		exists, err := columnExists(ctx, db, table, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
