// Package timeline keeps one conversation's message list as a client sees
// it, including messages that were sent but not yet confirmed by the server.
//
// A provisional entry is added before the send request goes out. It is
// resolved exactly once: by the send response (Confirm or Fail) or by a
// fan-out event for the same message, whichever arrives first. Later
// arrivals merge into the resolved entry and never move its status backwards.
package timeline

import (
	"fmt"
	"sync"
	"time"

	"smsinbox/internal/models"
	"smsinbox/internal/realtime"
)

// StatusSending marks a provisional entry. It is never stored server-side.
const StatusSending models.MessageStatus = "sending"

// Entry is one row of the timeline
type Entry struct {
	// TempID is set for entries that began as provisional
	TempID  string
	Message models.Message
}

// Provisional reports whether the server has not yet confirmed the entry
func (e *Entry) Provisional() bool {
	return e.Message.Status == StatusSending
}

// Timeline is safe for concurrent use by the send path and the event feed
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	entries        []*Entry
	seq            int
	now            func() time.Time
}

// New builds a timeline from fetched history, oldest first
func New(conversationID string, history []*models.Message) *Timeline {
	t := &Timeline{conversationID: conversationID, now: time.Now}
	for _, m := range history {
		t.entries = append(t.entries, &Entry{Message: *m})
	}
	return t
}

// AddProvisional appends an unconfirmed outbound message and returns its
// temporary id
func (t *Timeline) AddProvisional(from, to, body string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	tempID := fmt.Sprintf("temp-%d-%d", t.now().UnixNano(), t.seq)
	now := t.now().UTC()
	t.entries = append(t.entries, &Entry{
		TempID: tempID,
		Message: models.Message{
			ID:             tempID,
			ConversationID: t.conversationID,
			Direction:      models.DirectionOutbound,
			FromNumber:     from,
			ToNumber:       to,
			Body:           body,
			Status:         StatusSending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	})
	return tempID
}

// Confirm resolves a provisional entry with the server's record. If a
// fan-out event already placed the record elsewhere, the provisional entry
// is dropped instead of duplicating it.
func (t *Timeline) Confirm(tempID string, confirmed *models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOfTemp(tempID)
	existing := t.indexOfMessage(confirmed)

	switch {
	case idx < 0 && existing < 0:
		t.entries = append(t.entries, &Entry{Message: *confirmed})
	case idx < 0:
		merge(&t.entries[existing].Message, confirmed)
	case existing >= 0 && existing != idx:
		merge(&t.entries[existing].Message, confirmed)
		// a slot already adopted by an identical concurrent send stays put
		if t.entries[idx].Provisional() {
			t.removeAt(idx)
		}
	default:
		merge(&t.entries[idx].Message, confirmed)
	}
}

// Fail removes a provisional entry whose send never produced a record and
// returns the text so it can be put back in the composer. ok is false if
// the entry is gone or was already confirmed.
func (t *Timeline) Fail(tempID string) (body string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOfTemp(tempID)
	if idx < 0 || !t.entries[idx].Provisional() {
		return "", false
	}
	body = t.entries[idx].Message.Body
	t.removeAt(idx)
	return body, true
}

// Apply folds one fan-out event into the timeline. Events for other
// conversations and conversation-level events are ignored.
func (t *Timeline) Apply(event realtime.Event) {
	if event.Message == nil || event.ConversationID != t.conversationID {
		return
	}
	incoming := event.Message

	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexOfMessage(incoming); idx >= 0 {
		merge(&t.entries[idx].Message, incoming)
		return
	}

	if incoming.Direction == models.DirectionOutbound {
		if idx := t.matchProvisional(incoming); idx >= 0 {
			merge(&t.entries[idx].Message, incoming)
			return
		}
	}

	t.entries = append(t.entries, &Entry{Message: *incoming})
}

// Entries returns a snapshot in display order
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Pending counts unresolved provisional entries
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.Provisional() {
			n++
		}
	}
	return n
}

func (t *Timeline) indexOfTemp(tempID string) int {
	for i, e := range t.entries {
		if e.TempID == tempID {
			return i
		}
	}
	return -1
}

// indexOfMessage finds a confirmed entry for m by id or provider id
func (t *Timeline) indexOfMessage(m *models.Message) int {
	pid := m.ProviderID()
	for i, e := range t.entries {
		if e.Provisional() {
			continue
		}
		if e.Message.ID == m.ID {
			return i
		}
		if pid != "" && e.Message.ProviderID() == pid {
			return i
		}
	}
	return -1
}

// matchProvisional finds the oldest unresolved entry that could be m
func (t *Timeline) matchProvisional(m *models.Message) int {
	for i, e := range t.entries {
		if e.Provisional() && e.Message.Body == m.Body && e.Message.ToNumber == m.ToNumber {
			return i
		}
	}
	return -1
}

func (t *Timeline) removeAt(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}

// merge copies incoming into current unless it would lower the status
func merge(current *models.Message, incoming *models.Message) {
	if current.Status != StatusSending && models.Rank(incoming.Status) < models.Rank(current.Status) {
		return
	}
	*current = *incoming
}
