package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil-eoc/core/store"
)

// Audit pages default to the last 30 days so the first load stays
// bounded on long-lived installations.
const (
	auditWindowDefault = 30 * 24 * time.Hour
	auditPageDefault   = 1000
	auditPageMax       = 5000
)

var auditTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

type LogsHandler struct {
	audits store.AuditStore
}

func NewLogsHandler(audits store.AuditStore) *LogsHandler {
	return &LogsHandler{audits: audits}
}

func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.audits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []store.AuditEntry{}})
		return
	}
	query := readLogQuery(r)
	items, err := h.page(r, query)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"filter": query,
	})
}

func (h *LogsHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.audits == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	query := readLogQuery(r)
	if strings.TrimSpace(r.URL.Query().Get("limit")) == "" {
		query.Limit = auditPageMax
	}
	items, err := h.page(r, query)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	name := "event_feed_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.WriteHeader(http.StatusOK)
	out := csv.NewWriter(w)
	_ = out.Write([]string{"time", "username", "section", "action", "details"})
	for _, rec := range items {
		_ = out.Write([]string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			strings.TrimSpace(rec.Username),
			logCategory(rec.Action),
			strings.TrimSpace(rec.Action),
			strings.TrimSpace(rec.Details),
		})
	}
	out.Flush()
}

// page runs the store-side filters, then the free-text needle over the
// returned rows. The needle searches username, action and details.
func (h *LogsHandler) page(r *http.Request, query logQuery) ([]store.AuditEntry, error) {
	since := query.Since
	items, err := h.audits.ListAudit(r.Context(), store.AuditFilter{
		Username: query.User,
		Section:  query.Section,
		Action:   query.Action,
		From:     &since,
		To:       query.To,
		Limit:    query.Limit,
	})
	if err != nil || query.Query == "" {
		return items, err
	}
	var out []store.AuditEntry
	for _, rec := range items {
		haystack := strings.ToLower(rec.Username + " " + rec.Action + " " + rec.Details)
		if strings.Contains(haystack, query.Query) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// logQuery is echoed back alongside the page so the console can render
// the active filter chips. Field names are the wire contract.
type logQuery struct {
	Section string
	Action  string
	User    string
	Query   string
	Since   time.Time
	To      *time.Time
	Limit   int
}

func readLogQuery(r *http.Request) logQuery {
	q := r.URL.Query()
	query := logQuery{
		Section: strings.ToLower(strings.TrimSpace(q.Get("section"))),
		Action:  strings.ToLower(strings.TrimSpace(q.Get("action"))),
		User:    strings.ToLower(strings.TrimSpace(q.Get("user"))),
		Query:   strings.ToLower(strings.TrimSpace(q.Get("q"))),
		Since:   time.Now().UTC().Add(-auditWindowDefault),
		Limit:   auditPageDefault,
	}
	if at, ok := queryTime(q.Get("since")); ok {
		query.Since = at
	}
	if at, ok := queryTime(q.Get("to")); ok {
		query.To = &at
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && n > 0 {
		query.Limit = n
	}
	if query.Limit > auditPageMax {
		query.Limit = auditPageMax
	}
	return query
}

// queryTime parses an optional timestamp parameter. Absent or
// unparseable values report false so the caller keeps its default.
func queryTime(raw string) (time.Time, bool) {
	parsed, err := parseDateTime(raw)
	if err != nil || parsed.IsZero() {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// parseDateTime accepts the timestamp shapes the console date pickers
// emit, from full RFC3339 down to a bare date.
func parseDateTime(raw string) (time.Time, error) {
	val := strings.TrimSpace(raw)
	if val == "" {
		return time.Time{}, nil
	}
	for _, layout := range auditTimeLayouts {
		if at, err := time.Parse(layout, val); err == nil {
			return at, nil
		}
	}
	return time.Time{}, strconv.ErrSyntax
}

// logCategory maps a dot-form action like "auth.login_failed" to its
// section column for the export.
func logCategory(action string) string {
	clean := strings.TrimSpace(action)
	if section, _, ok := strings.Cut(clean, "."); ok && section != "" {
		return section
	}
	return clean
}
