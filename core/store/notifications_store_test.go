package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"vigil-eoc/core/notify"
)

func TestNotificationsInsertAndList(t *testing.T) {
	db := newTestDB(t)
	notifications := NewNotificationsStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		n := &notify.Notification{
			ID:         fmt.Sprintf("n-%d", i+1),
			IncidentID: int64(i + 1),
			Kind:       "incident.reported",
			Title:      fmt.Sprintf("Incident %d", i+1),
			Body:       "reported",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := notifications.InsertNotification(ctx, n); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// Replays are skipped, not duplicated.
	if err := notifications.InsertNotification(ctx, &notify.Notification{ID: "n-1", Kind: "incident.reported", CreatedAt: base}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	list, err := notifications.ListNotifications(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(list))
	}
	if list[0].ID != "n-3" || list[2].ID != "n-1" {
		t.Fatalf("expected newest first, got %s .. %s", list[0].ID, list[2].ID)
	}
	if list[0].IncidentID != 3 || list[0].Read {
		t.Fatalf("unexpected row: %+v", list[0])
	}

	limited, err := notifications.ListNotifications(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "n-3" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestNotificationsMarkReadOneWay(t *testing.T) {
	db := newTestDB(t)
	notifications := NewNotificationsStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if err := notifications.InsertNotification(ctx, &notify.Notification{ID: "n-1", Kind: "incident.verified", CreatedAt: base}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := notifications.InsertNotification(ctx, &notify.Notification{ID: "n-2", Kind: "incident.verified", CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	unread, err := notifications.CountUnread(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if unread != 2 {
		t.Fatalf("expected 2 unread, got %d", unread)
	}

	firstAck := base.Add(time.Minute)
	if err := notifications.MarkNotificationRead(ctx, "n-1", firstAck); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// A second ack must not move the original timestamp.
	if err := notifications.MarkNotificationRead(ctx, "n-1", firstAck.Add(time.Hour)); err != nil {
		t.Fatalf("re-ack: %v", err)
	}

	list, _ := notifications.ListNotifications(ctx, 0)
	var got *notify.Notification
	for i := range list {
		if list[i].ID == "n-1" {
			got = &list[i]
		}
	}
	if got == nil || !got.Read || got.ReadAt == nil {
		t.Fatalf("expected n-1 read, got %+v", got)
	}
	if !got.ReadAt.Equal(firstAck) {
		t.Fatalf("expected first ack timestamp %v, got %v", firstAck, got.ReadAt)
	}

	unread, _ = notifications.CountUnread(ctx)
	if unread != 1 {
		t.Fatalf("expected 1 unread after ack, got %d", unread)
	}
}
