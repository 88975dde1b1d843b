package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil-eoc/config"
	"vigil-eoc/core/incident"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

type IncidentsHandler struct {
	cfg    *config.AppConfig
	engine *incident.Engine
	audits store.AuditStore
	logger *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, engine *incident.Engine, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, engine: engine, audits: audits, logger: logger}
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.Filter{
		Area:   strings.TrimSpace(q.Get("area")),
		Search: strings.TrimSpace(q.Get("q")),
	}
	for _, raw := range splitCSV(q.Get("status")) {
		if st, ok := incident.ParseStatus(raw); ok {
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	for _, raw := range splitCSV(q.Get("severity")) {
		if sev, ok := incident.ParseSeverity(raw); ok {
			filter.Severities = append(filter.Severities, sev)
		}
	}
	for _, raw := range splitCSV(q.Get("type")) {
		if t, ok := incident.ParseType(raw); ok {
			filter.Types = append(filter.Types, t)
		}
	}
	ranked := true
	if v := strings.ToLower(strings.TrimSpace(q.Get("ranked"))); v == "0" || v == "false" {
		ranked = false
	}
	items := h.engine.List(filter, ranked)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// reportPayload is the intake contract of the reporting app. Field names
// follow its wire format; the engine normalizes everything else.
type reportPayload struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    struct {
		Lat     float64 `json:"lat"`
		Long    float64 `json:"long"`
		Area    string  `json:"area"`
		Address string  `json:"address"`
	} `json:"location"`
	Timestamp  string   `json:"timestamp"`
	Media      []string `json:"media"`
	MediaURL   string   `json:"mediaURL"`
	ReportedBy string   `json:"reportedBy"`
	SeverityAI string   `json:"severityAI"`
	Status     string   `json:"status"`
	AssignedTo string   `json:"assignedTo"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload reportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rep := incident.Report{
		Type:        payload.Type,
		Title:       payload.Title,
		Description: payload.Description,
		Location: incident.Location{
			Lat:     payload.Location.Lat,
			Lon:     payload.Location.Long,
			Area:    strings.TrimSpace(payload.Location.Area),
			Address: strings.TrimSpace(payload.Location.Address),
		},
		MediaURLs:  payload.Media,
		ReportedBy: strings.TrimSpace(payload.ReportedBy),
		SeverityAI: payload.SeverityAI,
		AssignedTo: payload.AssignedTo,
		ReporterID: &sess.UserID,
	}
	if url := strings.TrimSpace(payload.MediaURL); url != "" {
		rep.MediaURLs = append(rep.MediaURLs, url)
	}
	if rep.ReportedBy == "" {
		rep.ReportedBy = sess.Name
	}
	if raw := strings.TrimSpace(payload.Timestamp); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rep.Timestamp = &ts
		}
	}
	inc, err := h.engine.Ingest(r.Context(), rep)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.report", inc.RegNo)
	writeJSON(w, http.StatusCreated, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	inc, err := h.engine.Get(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	inc, err := h.engine.Verify(r.Context(), actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.verify", inc.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) MarkFalse(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.engine.MarkFalse(r.Context(), actor, id, payload.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.false", inc.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) MarkDuplicate(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		OriginalID int64 `json:"original_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.engine.MarkDuplicate(r.Context(), actor, id, payload.OriginalID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.duplicate", inc.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	status, valid := incident.ParseStatus(payload.Status)
	if !valid {
		writeEngineError(w, &incident.ValidationError{Field: "status", Reason: "unknown status"})
		return
	}
	inc, err := h.engine.SetStatus(r.Context(), actor, id, status)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.status", inc.RegNo+" -> "+string(inc.Status))
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) SetSeverity(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Severity string `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	severity, valid := incident.ParseSeverity(payload.Severity)
	if !valid {
		writeEngineError(w, &incident.ValidationError{Field: "severity", Reason: "unknown severity"})
		return
	}
	inc, err := h.engine.SetSeverity(r.Context(), actor, id, severity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.severity", inc.RegNo+" -> "+string(inc.Severity))
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Department string `json:"department"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.engine.AssignDepartment(r.Context(), actor, id, payload.Department)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.assign", inc.RegNo+" -> "+inc.AssignedDepartment)
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) Upvote(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	inc, err := h.engine.Upvote(r.Context(), actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.upvote", inc.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc})
}

func (h *IncidentsHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	actor, sess, ok := actorFromCtx(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	note, err := h.engine.AddNote(r.Context(), actor, id, payload.Content)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.audits.Log(r.Context(), sess.Email, "incidents.note", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusCreated, map[string]any{"note": note})
}

func (h *IncidentsHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	notes, err := h.engine.Notes(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": notes})
}

func (h *IncidentsHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	activity, err := h.engine.Activity(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": activity})
}

func (h *IncidentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *IncidentsHandler) MapMarkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vp := incident.Viewport{
		LatMin: parseFloatDefault(q.Get("lat_min"), -90),
		LatMax: parseFloatDefault(q.Get("lat_max"), 90),
		LonMin: parseFloatDefault(q.Get("lon_min"), -180),
		LonMax: parseFloatDefault(q.Get("lon_max"), 180),
	}
	markers, err := h.engine.Markers(vp)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": markers, "total": len(markers)})
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func parseFloatDefault(val string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return def
	}
	return v
}
