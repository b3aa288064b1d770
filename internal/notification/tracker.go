package notification

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/realtime"
)

// UnreadTracker is the client-side unread counter. Seed it from List and feed
// it live change events; after a reconnect call Reset with a fresh List since
// events missed while disconnected are gone.
//
// The tracker remembers the read state of every row it has seen, so an event
// for a row already reflected in the seed list does not move the count. That
// makes it safe to subscribe first and list second.
type UnreadTracker struct {
	mu     sync.Mutex
	unread map[uuid.UUID]struct{}
	read   map[uuid.UUID]struct{}
	// unread rows beyond the seeded page
	hidden int
}

func NewUnreadTracker(initial []Notification) *UnreadTracker {
	t := &UnreadTracker{}
	t.Reset(initial)
	return t
}

// Reset seeds the tracker from a list that holds every unread row.
func (t *UnreadTracker) Reset(list []Notification) {
	t.ResetTotal(list, 0)
}

// ResetTotal seeds the tracker from one page of List plus the server's total
// unread count, which may exceed the unread rows on the page.
func (t *UnreadTracker) ResetTotal(list []Notification, unreadTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unread = make(map[uuid.UUID]struct{})
	t.read = make(map[uuid.UUID]struct{})
	for _, item := range list {
		t.mark(item.ID, !item.IsRead)
	}
	t.hidden = max(unreadTotal-len(t.unread), 0)
}

func (t *UnreadTracker) mark(id uuid.UUID, isUnread bool) {
	if isUnread {
		delete(t.read, id)
		t.unread[id] = struct{}{}
		return
	}
	delete(t.unread, id)
	t.read[id] = struct{}{}
}

func (t *UnreadTracker) known(id uuid.UUID) bool {
	_, u := t.unread[id]
	_, r := t.read[id]
	return u || r
}

type rowImage struct {
	ID     uuid.UUID `json:"id"`
	IsRead *bool     `json:"is_read"`
}

func image(raw json.RawMessage) (rowImage, bool) {
	var img rowImage
	if len(raw) == 0 {
		return img, false
	}
	if err := json.Unmarshal(raw, &img); err != nil || img.IsRead == nil {
		return img, false
	}
	return img, true
}

// Apply updates the count from one event and returns the new value. Events for
// other tables, such as mailbox messages, are ignored.
func (t *UnreadTracker) Apply(ev realtime.ChangeEvent) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Table != Table {
		return t.count()
	}

	switch ev.Type {
	case realtime.EventInsert:
		if img, ok := image(ev.New); ok && !t.known(img.ID) {
			t.mark(img.ID, !*img.IsRead)
		}
	case realtime.EventUpdate:
		img, ok := image(ev.New)
		if !ok {
			break
		}
		if !t.known(img.ID) {
			// a row from beyond the seeded page going read
			if old, ok := image(ev.Old); ok && !*old.IsRead && *img.IsRead && t.hidden > 0 {
				t.hidden--
			}
		}
		t.mark(img.ID, !*img.IsRead)
	case realtime.EventDelete:
		old, ok := image(ev.Old)
		if !ok {
			break
		}
		switch {
		case t.known(old.ID):
			delete(t.unread, old.ID)
		case !*old.IsRead && t.hidden > 0:
			t.hidden--
		}
		// a late INSERT for a deleted row must not count
		t.read[old.ID] = struct{}{}
	}
	return t.count()
}

func (t *UnreadTracker) count() int {
	return len(t.unread) + t.hidden
}

func (t *UnreadTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count()
}
