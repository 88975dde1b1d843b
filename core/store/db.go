package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps database/sql so the stores can be written once with ?
// placeholders. For postgres the query text is rebound to $N before it
// reaches the driver.
type DB struct {
	sql  *sql.DB
	name string
}

// Open connects to the configured database. driver is "sqlite" (dsn is a
// file path, parent directories are created) or "postgres" (dsn is a
// pgx-compatible URL).
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, "":
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		for _, pragma := range []string{
			`PRAGMA journal_mode=WAL`,
			`PRAGMA foreign_keys=ON`,
			`PRAGMA busy_timeout=5000`,
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("sqlite pragma: %w", err)
			}
		}
		return &DB{sql: db, name: DriverSQLite}, nil
	case DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetConnMaxIdleTime(5 * time.Minute)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &DB{sql: db, name: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// Wrap adopts an already-open handle. Tests use it to plug sqlmock in.
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{sql: db, name: driver}
}

func (d *DB) Driver() string    { return d.name }
func (d *DB) IsPostgres() bool  { return d.name == DriverPostgres }
func (d *DB) Close() error      { return d.sql.Close() }
func (d *DB) Unwrap() *sql.DB   { return d.sql }
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, d.rebind(query), args...)
}

// rebind rewrites ? placeholders to $1..$N for postgres. None of the
// store queries carry a literal question mark.
func (d *DB) rebind(query string) string {
	if d.name != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
