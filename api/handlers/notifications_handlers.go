package handlers

import (
	"net/http"
	"strings"

	"vigil-eoc/core/notify"
	"vigil-eoc/core/store"
)

type NotificationsHandler struct {
	center *notify.Center
	audits store.AuditStore
}

func NewNotificationsHandler(center *notify.Center, audits store.AuditStore) *NotificationsHandler {
	return &NotificationsHandler{center: center, audits: audits}
}

func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	items := h.center.List(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"unread": h.center.UnreadCount(),
	})
}

func (h *NotificationsHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unread": h.center.UnreadCount()})
}

// MarkRead acknowledges one notification. Re-acking an already read or
// unknown id is a silent no-op, so the endpoint always answers ok.
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(pathParams(r)["id"])
	if id == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.center.MarkRead(r.Context(), id)
	if sess := sessionFromCtx(r); sess != nil {
		h.audits.Log(r.Context(), sess.Email, "notifications.read", id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unread": h.center.UnreadCount()})
}
