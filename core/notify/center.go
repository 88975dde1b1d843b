package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"vigil-eoc/core/utils"
)

// Notification is one entry of the dashboard feed. Read is one-way:
// once true it never flips back.
type Notification struct {
	ID         string     `json:"id"`
	IncidentID int64      `json:"incident_id,omitempty"`
	Kind       string     `json:"kind"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// Mirror persists feed changes. Implemented by store.NotificationsStore.
type Mirror interface {
	InsertNotification(ctx context.Context, n *Notification) error
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
}

// Center keeps the notification feed in memory, newest first, capped.
// The database is a best-effort mirror; a failed write is logged and
// the in-memory feed stays authoritative.
type Center struct {
	mu     sync.RWMutex
	items  []Notification
	cap    int
	mirror Mirror
	logger *utils.Logger
}

func NewCenter(feedCap int, mirror Mirror, logger *utils.Logger) *Center {
	if feedCap <= 0 {
		feedCap = 200
	}
	return &Center{cap: feedCap, mirror: mirror, logger: logger}
}

// Seed loads the persisted feed at boot. Input is newest first.
func (c *Center) Seed(items []Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(items) > c.cap {
		items = items[:c.cap]
	}
	c.items = append([]Notification(nil), items...)
}

// Push prepends a notification, assigning id and timestamp when unset,
// and mirrors it.
func (c *Center) Push(ctx context.Context, n Notification) Notification {
	if n.ID == "" {
		n.ID = uuid.Must(uuid.NewV4()).String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.items = append([]Notification{n}, c.items...)
	if len(c.items) > c.cap {
		c.items = c.items[:c.cap]
	}
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.InsertNotification(ctx, &n); err != nil {
			c.logger.Errorf("notification mirror write failed: %v", err)
		}
	}
	return n
}

// MarkRead flips a notification to read. Unknown ids and already-read
// notifications are silent no-ops.
func (c *Center) MarkRead(ctx context.Context, id string) {
	now := time.Now().UTC()
	c.mu.Lock()
	changed := false
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		if !c.items[i].Read {
			c.items[i].Read = true
			t := now
			c.items[i].ReadAt = &t
			changed = true
		}
		break
	}
	c.mu.Unlock()

	if changed && c.mirror != nil {
		if err := c.mirror.MarkNotificationRead(ctx, id, now); err != nil {
			c.logger.Errorf("notification ack mirror failed: %v", err)
		}
	}
}

func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for i := range c.items {
		if !c.items[i].Read {
			count++
		}
	}
	return count
}

// List returns up to limit notifications, newest first.
func (c *Center) List(limit int) []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Notification, n)
	copy(out, c.items[:n])
	return out
}
