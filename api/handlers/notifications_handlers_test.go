package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"vigil-eoc/core/notify"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

func setupNotificationsHandler(t *testing.T) (*NotificationsHandler, *notify.Center) {
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
	center := notify.NewCenter(10, store.NewNotificationsStore(db), logger)
	audits := store.NewAuditStore(db, logger)
	return NewNotificationsHandler(center, audits), center
}

func TestNotificationsListNewestFirst(t *testing.T) {
	h, center := setupNotificationsHandler(t)
	center.Push(context.Background(), notify.Notification{Kind: "incident.reported", Title: "first"})
	center.Push(context.Background(), notify.Notification{Kind: "incident.verified", Title: "second"})

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items: %d", len(items))
	}
	if items[0].(map[string]any)["title"] != "second" {
		t.Fatalf("feed must be newest first: %v", items[0])
	}
	if int(body["unread"].(float64)) != 2 {
		t.Fatalf("unread: %v", body["unread"])
	}
}

func TestNotificationsListHonorsLimit(t *testing.T) {
	h, center := setupNotificationsHandler(t)
	for i := 0; i < 5; i++ {
		center.Push(context.Background(), notify.Notification{Kind: "incident.reported", Title: "n"})
	}
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/api/notifications?limit=3", nil))
	if got := len(decodeJSON(t, rr)["items"].([]any)); got != 3 {
		t.Fatalf("limit: %d", got)
	}
}

func TestMarkReadDropsUnreadCount(t *testing.T) {
	h, center := setupNotificationsHandler(t)
	n := center.Push(context.Background(), notify.Notification{Kind: "incident.reported", Title: "ack me"})

	rr := httptest.NewRecorder()
	h.MarkRead(rr, httptest.NewRequest(http.MethodPost, "/api/notifications/"+n.ID+"/read", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read: %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if body["status"] != "ok" || int(body["unread"].(float64)) != 0 {
		t.Fatalf("ack payload: %v", body)
	}

	// Re-acking and unknown ids stay a quiet ok.
	rr = httptest.NewRecorder()
	h.MarkRead(rr, httptest.NewRequest(http.MethodPost, "/api/notifications/"+n.ID+"/read", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("re-ack: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.MarkRead(rr, httptest.NewRequest(http.MethodPost, "/api/notifications/ghost/read", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown id: %d", rr.Code)
	}
}

func TestMarkReadWithoutIDRejected(t *testing.T) {
	h, _ := setupNotificationsHandler(t)
	rr := httptest.NewRecorder()
	h.MarkRead(rr, httptest.NewRequest(http.MethodPost, "/api/other/path", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing id: %d", rr.Code)
	}
}

func TestUnreadCountEndpoint(t *testing.T) {
	h, center := setupNotificationsHandler(t)
	center.Push(context.Background(), notify.Notification{Kind: "incident.reported", Title: "a"})

	rr := httptest.NewRecorder()
	h.UnreadCount(rr, httptest.NewRequest(http.MethodGet, "/api/notifications/unread-count", nil))
	if got := int(decodeJSON(t, rr)["unread"].(float64)); got != 1 {
		t.Fatalf("unread: %d", got)
	}
}
