package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"vigil-eoc/core/utils"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	pg := Wrap(nil, DriverPostgres)
	got := pg.rebind(`SELECT id FROM users WHERE email=? AND is_active=?`)
	want := `SELECT id FROM users WHERE email=$1 AND is_active=$2`
	if got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}

	lite := Wrap(nil, DriverSQLite)
	query := `SELECT id FROM users WHERE email=?`
	if lite.rebind(query) != query {
		t.Fatalf("sqlite queries must pass through unchanged")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenCreatesSQLiteParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "vigil.db")
	db, err := Open(context.Background(), DriverSQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestWrapRebindsForPostgresDriver(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer raw.Close()
	db := Wrap(raw, DriverPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE id=$1`)).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewSessionsStore(db).DeleteSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuditLogSwallowsWriteFailure(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer raw.Close()
	db := Wrap(raw, DriverSQLite)

	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnError(errors.New("disk full"))

	audits := NewAuditStore(db, utils.NewSilentLogger())
	// Log must not propagate the failure to the caller.
	audits.Log(context.Background(), "ada", "auth.login", "")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMirrorWriteFailureSurfaces(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer raw.Close()
	db := Wrap(raw, DriverSQLite)

	mock.ExpectExec("INSERT INTO incident_reg_counters").
		WillReturnError(errors.New("database is locked"))

	saveErr := NewIncidentsStore(db).SaveRegCounter(context.Background(), 2025, 1)
	if saveErr == nil {
		t.Fatalf("expected mirror write failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
