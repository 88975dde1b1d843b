package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"vigil-eoc/core/incident"
)

// IncidentsStore mirrors the in-memory incident state. Writes are
// versioned upserts: a stale racing write is skipped, never an error.
// It satisfies incident.Mirror.
type IncidentsStore interface {
	SaveIncident(ctx context.Context, inc *incident.Incident) error
	SaveNote(ctx context.Context, note *incident.AdminNote) error
	SaveActivity(ctx context.Context, entry *incident.ActivityLogEntry) error
	SaveRegCounter(ctx context.Context, year int, seq int64) error

	ListIncidents(ctx context.Context) ([]incident.Incident, error)
	ListNotes(ctx context.Context) ([]incident.AdminNote, error)
	ListActivity(ctx context.Context) ([]incident.ActivityLogEntry, error)
	LoadRegCounters(ctx context.Context) (map[int]int64, error)
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, reg_no, type, severity, status, title, description, lat, lon, area, address, priority, upvotes, reporter_id, reported_by, assigned_department, verified_at, verified_by, verified_by_name, resolved_at, duplicate_of, media, version, created_at, updated_at`

func (s *incidentsStore) SaveIncident(ctx context.Context, inc *incident.Incident) error {
	media, err := json.Marshal(inc.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	if inc.Media == nil {
		media = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id)
		DO UPDATE SET
			type=excluded.type,
			severity=excluded.severity,
			status=excluded.status,
			title=excluded.title,
			description=excluded.description,
			lat=excluded.lat,
			lon=excluded.lon,
			area=excluded.area,
			address=excluded.address,
			priority=excluded.priority,
			upvotes=excluded.upvotes,
			reporter_id=excluded.reporter_id,
			reported_by=excluded.reported_by,
			assigned_department=excluded.assigned_department,
			verified_at=excluded.verified_at,
			verified_by=excluded.verified_by,
			verified_by_name=excluded.verified_by_name,
			resolved_at=excluded.resolved_at,
			duplicate_of=excluded.duplicate_of,
			media=excluded.media,
			version=excluded.version,
			updated_at=excluded.updated_at
		WHERE excluded.version > incidents.version`,
		inc.ID, inc.RegNo, string(inc.Type), string(inc.Severity), string(inc.Status),
		inc.Title, inc.Description, inc.Location.Lat, inc.Location.Lon, inc.Location.Area,
		inc.Location.Address, inc.Priority, inc.Upvotes, inc.ReporterID, inc.ReportedBy,
		inc.AssignedDepartment, inc.VerifiedAt, inc.VerifiedBy, inc.VerifiedByName,
		inc.ResolvedAt, inc.DuplicateOf, string(media), inc.Version, inc.CreatedAt, inc.UpdatedAt)
	return err
}

func (s *incidentsStore) SaveNote(ctx context.Context, note *incident.AdminNote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_notes(id, incident_id, author_id, author_name, content, created_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
		note.ID, note.IncidentID, note.AuthorID, note.AuthorName, note.Content, note.CreatedAt)
	return err
}

func (s *incidentsStore) SaveActivity(ctx context.Context, entry *incident.ActivityLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_activity(id, incident_id, action, details, user_id, user_name, created_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.IncidentID, string(entry.Action), entry.Details, entry.UserID, entry.UserName, entry.CreatedAt)
	return err
}

func (s *incidentsStore) SaveRegCounter(ctx context.Context, year int, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_reg_counters(year, seq)
		VALUES(?,?)
		ON CONFLICT (year)
		DO UPDATE SET seq=excluded.seq
		WHERE excluded.seq > incident_reg_counters.seq`,
		year, seq)
	return err
}

func (s *incidentsStore) ListIncidents(ctx context.Context) ([]incident.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListNotes(ctx context.Context) ([]incident.AdminNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, author_id, author_name, content, created_at
		FROM incident_notes ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []incident.AdminNote
	for rows.Next() {
		var n incident.AdminNote
		if err := rows.Scan(&n.ID, &n.IncidentID, &n.AuthorID, &n.AuthorName, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListActivity(ctx context.Context) ([]incident.ActivityLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, action, details, user_id, user_name, created_at
		FROM incident_activity ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []incident.ActivityLogEntry
	for rows.Next() {
		var e incident.ActivityLogEntry
		var action string
		if err := rows.Scan(&e.ID, &e.IncidentID, &action, &e.Details, &e.UserID, &e.UserName, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = incident.Action(action)
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *incidentsStore) LoadRegCounters(ctx context.Context) (map[int]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year, seq FROM incident_reg_counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[int]int64)
	for rows.Next() {
		var year int
		var seq int64
		if err := rows.Scan(&year, &seq); err != nil {
			return nil, err
		}
		res[year] = seq
	}
	return res, rows.Err()
}

func scanIncident(rows *sql.Rows) (*incident.Incident, error) {
	var (
		inc        incident.Incident
		typ        string
		severity   string
		status     string
		reporterID sql.NullInt64
		verifiedAt sql.NullTime
		verifiedBy sql.NullInt64
		resolvedAt sql.NullTime
		dupOf      sql.NullInt64
		media      string
	)
	if err := rows.Scan(
		&inc.ID, &inc.RegNo, &typ, &severity, &status, &inc.Title, &inc.Description,
		&inc.Location.Lat, &inc.Location.Lon, &inc.Location.Area, &inc.Location.Address,
		&inc.Priority, &inc.Upvotes, &reporterID, &inc.ReportedBy, &inc.AssignedDepartment,
		&verifiedAt, &verifiedBy, &inc.VerifiedByName, &resolvedAt, &dupOf, &media,
		&inc.Version, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return nil, err
	}
	inc.Type = incident.Type(typ)
	inc.Severity = incident.Severity(severity)
	inc.Status = incident.Status(status)
	if reporterID.Valid {
		inc.ReporterID = &reporterID.Int64
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		inc.VerifiedAt = &t
	}
	if verifiedBy.Valid {
		inc.VerifiedBy = &verifiedBy.Int64
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	if dupOf.Valid {
		inc.DuplicateOf = &dupOf.Int64
	}
	if media != "" && media != "[]" {
		var urls []string
		if err := json.Unmarshal([]byte(media), &urls); err == nil && len(urls) > 0 {
			inc.Media = urls
		}
	}
	return &inc, nil
}
