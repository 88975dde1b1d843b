package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/incident"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

func setupIncidentsHandler(t *testing.T) *IncidentsHandler {
	t.Helper()
	logger := utils.NewSilentLogger()
	db, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	engine := incident.NewEngine(incident.EngineConfig{
		Policy:       rbac.NewPolicy(rbac.DefaultRoles()),
		Mirror:       store.NewIncidentsStore(db),
		Logger:       logger,
		RetryBackoff: time.Millisecond,
	})
	audits := store.NewAuditStore(db, logger)
	return NewIncidentsHandler(&config.AppConfig{}, engine, audits, logger)
}

func adminSession() *auth.Session {
	return &auth.Session{
		ID: "sess-admin", UserID: 7, Email: "ada@vigil.example",
		Name: "Ada Admin", Roles: []string{rbac.RoleAdmin}, CSRFToken: "tok",
	}
}

func responderSession() *auth.Session {
	return &auth.Session{
		ID: "sess-resp", UserID: 8, Email: "rex@vigil.example",
		Name: "Rex Responder", Roles: []string{rbac.RoleResponder}, CSRFToken: "tok",
	}
}

func incidentRequest(method, path, body string, sess *auth.Session) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if sess != nil {
		req = req.WithContext(auth.WithSession(req.Context(), sess))
	}
	return req
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func createIncident(t *testing.T, h *IncidentsHandler, body string) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Create(rr, incidentRequest(http.MethodPost, "/api/incidents", body, adminSession()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	return decodeJSON(t, rr)["incident"].(map[string]any)
}

func TestCreateMapsIntakePayload(t *testing.T) {
	h := setupIncidentsHandler(t)
	inc := createIncident(t, h, `{
		"type": "FIRE",
		"title": "  Warehouse fire  ",
		"description": "Smoke over the north hall",
		"location": {"lat": 41.72, "long": 44.81, "area": "  Vake "},
		"media": ["a.jpg"],
		"mediaURL": "b.jpg",
		"severityAI": "critical",
		"assignedTo": "Not Assigned",
		"timestamp": "2026-08-20T10:00:00Z"
	}`)

	if inc["reg_no"] != "INC-2026-00001" {
		t.Fatalf("reg_no: %v", inc["reg_no"])
	}
	if inc["title"] != "Warehouse fire" || inc["severity"] != "CRITICAL" {
		t.Fatalf("title/severity: %v %v", inc["title"], inc["severity"])
	}
	loc := inc["location"].(map[string]any)
	if loc["lon"] != 44.81 || loc["area"] != "Vake" {
		t.Fatalf("location mapping: %v", loc)
	}
	media := inc["media"].([]any)
	if len(media) != 2 || media[0] != "a.jpg" || media[1] != "b.jpg" {
		t.Fatalf("media merge: %v", media)
	}
	if inc["reported_by"] != "Ada Admin" {
		t.Fatalf("blank reportedBy must fall back to the session name: %v", inc["reported_by"])
	}
	if int64(inc["reporter_id"].(float64)) != 7 {
		t.Fatalf("reporter_id: %v", inc["reporter_id"])
	}
	if _, present := inc["assigned_department"]; present {
		t.Fatalf("intake placeholder department must be dropped")
	}
	if !strings.HasPrefix(inc["created_at"].(string), "2026-08-20T10:00:00") {
		t.Fatalf("intake timestamp must win: %v", inc["created_at"])
	}
}

func TestCreateRequiresSession(t *testing.T) {
	h := setupIncidentsHandler(t)
	rr := httptest.NewRecorder()
	h.Create(rr, incidentRequest(http.MethodPost, "/api/incidents", `{"type":"FIRE","description":"x"}`, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateUnknownTypeRejected(t *testing.T) {
	h := setupIncidentsHandler(t)
	rr := httptest.NewRecorder()
	h.Create(rr, incidentRequest(http.MethodPost, "/api/incidents",
		`{"type":"EARTHQUAKE","description":"shaking"}`, adminSession()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "validation" {
		t.Fatalf("error envelope: %v", body)
	}
}

func TestVerifyResolvesIDFromPath(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"MEDICAL","description":"collapsed person","location":{"lat":41.7,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.Verify(rr, incidentRequest(http.MethodPost, "/api/incidents/1/verify", "{}", adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rr.Code, rr.Body.String())
	}
	inc := decodeJSON(t, rr)["incident"].(map[string]any)
	if inc["status"] != "VERIFIED" || inc["verified_by_name"] != "Ada Admin" {
		t.Fatalf("verify result: %v", inc)
	}
}

func TestEngineErrorsMapToStatusCodes(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","description":"smoke","location":{"lat":41.7,"long":44.8}}`)

	// Unknown id.
	rr := httptest.NewRecorder()
	h.Verify(rr, incidentRequest(http.MethodPost, "/api/incidents/99/verify", "{}", adminSession()))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "not_found" {
		t.Fatalf("error envelope: %v", body)
	}

	// Double verify conflicts.
	rr = httptest.NewRecorder()
	h.Verify(rr, incidentRequest(http.MethodPost, "/api/incidents/1/verify", "{}", adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("first verify: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.Verify(rr, incidentRequest(http.MethodPost, "/api/incidents/1/verify", "{}", adminSession()))
	if rr.Code != http.StatusConflict {
		t.Fatalf("re-verify: %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "invalid_transition" {
		t.Fatalf("error envelope: %v", body)
	}

	// Severity changes are admin-only; the engine refuses the responder.
	rr = httptest.NewRecorder()
	h.SetSeverity(rr, incidentRequest(http.MethodPost, "/api/incidents/1/severity",
		`{"severity":"HIGH"}`, responderSession()))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("responder severity change: %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "permission" {
		t.Fatalf("error envelope: %v", body)
	}
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","description":"smoke","location":{"lat":41.7,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.SetStatus(rr, incidentRequest(http.MethodPost, "/api/incidents/1/status",
		`{"status":"TELEPORTED"}`, adminSession()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "validation" {
		t.Fatalf("error envelope: %v", body)
	}
}

func TestListFiltersAndRanking(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","title":"Warehouse","description":"Smoke rising","severityAI":"CRITICAL",
		"location":{"lat":41.7,"long":44.8,"area":"Vake"},"timestamp":"2026-08-20T08:00:00Z"}`)
	createIncident(t, h, `{"type":"MEDICAL","title":"Fainting","description":"Person down","severityAI":"LOW",
		"location":{"lat":41.8,"long":44.9,"area":"Gldani"},"timestamp":"2026-08-20T09:00:00Z"}`)

	list := func(query string) map[string]any {
		rr := httptest.NewRecorder()
		h.List(rr, incidentRequest(http.MethodGet, "/api/incidents"+query, "", adminSession()))
		if rr.Code != http.StatusOK {
			t.Fatalf("list %s: %d", query, rr.Code)
		}
		return decodeJSON(t, rr)
	}

	if got := list("?severity=critical"); int(got["total"].(float64)) != 1 {
		t.Fatalf("severity filter: %v", got["total"])
	}
	if got := list("?area=VAKE"); int(got["total"].(float64)) != 1 {
		t.Fatalf("area filter is case-insensitive: %v", got["total"])
	}
	if got := list("?q=smoke"); int(got["total"].(float64)) != 1 {
		t.Fatalf("text search: %v", got["total"])
	}
	if got := list("?type=FIRE,MEDICAL"); int(got["total"].(float64)) != 2 {
		t.Fatalf("csv type filter: %v", got["total"])
	}

	// Ranked default puts CRITICAL first; unranked keeps newest first.
	ranked := list("")["items"].([]any)
	if ranked[0].(map[string]any)["severity"] != "CRITICAL" {
		t.Fatalf("ranked order: %v", ranked[0])
	}
	unranked := list("?ranked=0")["items"].([]any)
	if unranked[0].(map[string]any)["severity"] != "LOW" {
		t.Fatalf("unranked order is newest first: %v", unranked[0])
	}
}

func TestMarkFalseAndDuplicateFlows(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","description":"original","location":{"lat":41.7,"long":44.8}}`)
	createIncident(t, h, `{"type":"FIRE","description":"same event","location":{"lat":41.7,"long":44.8}}`)
	createIncident(t, h, `{"type":"CRIME","description":"prank call","location":{"lat":41.7,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.MarkDuplicate(rr, incidentRequest(http.MethodPost, "/api/incidents/2/duplicate",
		`{"original_id":1}`, adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate: %d %s", rr.Code, rr.Body.String())
	}
	dup := decodeJSON(t, rr)["incident"].(map[string]any)
	if dup["status"] != "DUPLICATE" || int64(dup["duplicate_of"].(float64)) != 1 {
		t.Fatalf("duplicate result: %v", dup)
	}

	// Duplicates never chain onto discarded reports.
	rr = httptest.NewRecorder()
	h.MarkDuplicate(rr, incidentRequest(http.MethodPost, "/api/incidents/3/duplicate",
		`{"original_id":2}`, adminSession()))
	if rr.Code != http.StatusConflict {
		t.Fatalf("chained duplicate must conflict: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.MarkFalse(rr, incidentRequest(http.MethodPost, "/api/incidents/3/false",
		`{"reason":"confirmed hoax"}`, adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("false: %d", rr.Code)
	}
	dismissed := decodeJSON(t, rr)["incident"].(map[string]any)
	if dismissed["status"] != "FALSE" {
		t.Fatalf("false result: %v", dismissed)
	}

	// A missing reason is a validation error, not a transition.
	rr = httptest.NewRecorder()
	h.MarkFalse(rr, incidentRequest(http.MethodPost, "/api/incidents/1/false",
		`{"reason":"  "}`, adminSession()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank reason: %d", rr.Code)
	}
}

func TestUpvoteCountsAndClosesOnTerminal(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"INFRASTRUCTURE","description":"burst pipe","location":{"lat":41.7,"long":44.8}}`)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.Upvote(rr, incidentRequest(http.MethodPost, "/api/incidents/1/upvote", "{}", responderSession()))
		if rr.Code != http.StatusOK {
			t.Fatalf("upvote %d: %d", i, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.Get(rr, incidentRequest(http.MethodGet, "/api/incidents/1", "", adminSession()))
	inc := decodeJSON(t, rr)["incident"].(map[string]any)
	if int64(inc["upvotes"].(float64)) != 2 {
		t.Fatalf("upvotes: %v", inc["upvotes"])
	}

	rr = httptest.NewRecorder()
	h.MarkFalse(rr, incidentRequest(http.MethodPost, "/api/incidents/1/false",
		`{"reason":"no pipe found"}`, adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("false: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.Upvote(rr, incidentRequest(http.MethodPost, "/api/incidents/1/upvote", "{}", responderSession()))
	if rr.Code != http.StatusConflict {
		t.Fatalf("upvote on terminal record: %d", rr.Code)
	}
}

func TestNotesLifecycle(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"ACCIDENT","description":"two cars","location":{"lat":41.7,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.AddNote(rr, incidentRequest(http.MethodPost, "/api/incidents/1/notes",
		`{"content":"tow truck dispatched"}`, responderSession()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add note: %d %s", rr.Code, rr.Body.String())
	}
	note := decodeJSON(t, rr)["note"].(map[string]any)
	if note["content"] != "tow truck dispatched" || note["author_name"] != "Rex Responder" {
		t.Fatalf("note payload: %v", note)
	}

	rr = httptest.NewRecorder()
	h.AddNote(rr, incidentRequest(http.MethodPost, "/api/incidents/1/notes",
		`{"content":"   "}`, responderSession()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("blank note: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ListNotes(rr, incidentRequest(http.MethodGet, "/api/incidents/1/notes", "", adminSession()))
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("notes list: %d", len(items))
	}
}

func TestMapMarkersViewport(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","description":"north","location":{"lat":41.9,"long":44.8}}`)
	createIncident(t, h, `{"type":"FIRE","description":"south","location":{"lat":41.1,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.MapMarkers(rr, incidentRequest(http.MethodGet,
		"/api/incidents/map?lat_min=41.5&lat_max=42.0&lon_min=44.0&lon_max=45.0", "", adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("map: %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if int(body["total"].(float64)) != 1 {
		t.Fatalf("viewport filter: %v", body["total"])
	}
	marker := body["items"].([]any)[0].(map[string]any)
	if marker["lat"] != 41.9 {
		t.Fatalf("wrong marker: %v", marker)
	}

	rr = httptest.NewRecorder()
	h.MapMarkers(rr, incidentRequest(http.MethodGet,
		"/api/incidents/map?lat_min=50&lat_max=10", "", adminSession()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted viewport: %d", rr.Code)
	}
}

func TestActivityTrailAccumulates(t *testing.T) {
	h := setupIncidentsHandler(t)
	createIncident(t, h, `{"type":"FIRE","description":"smoke","location":{"lat":41.7,"long":44.8}}`)

	rr := httptest.NewRecorder()
	h.Verify(rr, incidentRequest(http.MethodPost, "/api/incidents/1/verify", "{}", adminSession()))
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ListActivity(rr, incidentRequest(http.MethodGet, "/api/incidents/1/activity", "", adminSession()))
	items := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("activity entries: %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["action"] != "REPORTED" {
		t.Fatalf("trail order: %v", first)
	}
}
