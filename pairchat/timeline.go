package pairchat

import (
	"slices"
	"sort"
	"time"
)

// DefaultDedupWindow is how far apart two entries with the same sender and
// body may be and still count as one message, when no shared client id exists.
const DefaultDedupWindow = 5 * time.Second

// entry is a displayed message plus whether its ProvisionalID is shared with
// the sending client (local sends, or a clientId carried on the wire).
// Unkeyed entries can only be matched by content.
type entry struct {
	Message
	keyed bool
}

// timeline is the ordered, duplicate-free message sequence of one room.
// It is not safe for concurrent use; RoomSession serializes access.
type timeline struct {
	roomID  string
	self    string
	window  time.Duration
	entries []entry
}

func newTimeline(roomID, self string, window time.Duration) *timeline {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &timeline{roomID: roomID, self: self, window: window}
}

func compareEntries(a, b entry) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.PersistedID < b.PersistedID:
		return -1
	case a.PersistedID > b.PersistedID:
		return 1
	}
	return 0
}

// insert places e after every entry that does not sort after it, so equal
// keys keep arrival order.
func (t *timeline) insert(e entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return compareEntries(e, t.entries[i]) < 0
	})
	t.entries = slices.Insert(t.entries, i, e)
}

func (t *timeline) indexOf(provisionalID string) int {
	for i := range t.entries {
		if t.entries[i].ProvisionalID == provisionalID {
			return i
		}
	}
	return -1
}

func (t *timeline) indexOfPersisted(persistedID string) int {
	for i := range t.entries {
		if t.entries[i].PersistedID == persistedID {
			return i
		}
	}
	return -1
}

func (t *timeline) sameContent(a, b entry) bool {
	if a.Sender != b.Sender || a.Body != b.Body {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= t.window
}

// represents reports whether existing stands for the same logical message as e.
func (t *timeline) represents(existing, e entry) bool {
	if e.PersistedID != "" && existing.PersistedID != "" {
		return existing.PersistedID == e.PersistedID
	}
	if existing.keyed && e.keyed {
		return existing.ProvisionalID == e.ProvisionalID
	}
	if existing.ProvisionalID == e.ProvisionalID {
		return true
	}
	return t.sameContent(existing, e)
}

// addLocal appends an optimistic entry for a message the current user sent.
func (t *timeline) addLocal(m Message) {
	m.Status = StatusPending
	m.RoomID = t.roomID
	t.insert(entry{Message: m, keyed: true})
}

// receiveLive applies an inbound event. It reports whether the sequence changed.
func (t *timeline) receiveLive(m Message, keyed bool) bool {
	if m.Sender == t.self {
		return false
	}
	e := entry{Message: m, keyed: keyed}
	e.RoomID = t.roomID
	e.PersistedID = ""
	e.Status = StatusReceived
	for _, existing := range t.entries {
		if t.represents(existing, e) {
			return false
		}
	}
	t.insert(e)
	return true
}

// resolveHistory replaces the sequence with history, then re-inserts every
// previous entry that history does not already represent.
func (t *timeline) resolveHistory(history []Message) {
	merged := make([]entry, 0, len(history)+len(t.entries))
	for _, m := range history {
		e := entry{Message: m, keyed: m.ProvisionalID != ""}
		if !e.keyed {
			e.ProvisionalID = NewProvisionalID()
		}
		e.RoomID = t.roomID
		e.Status = StatusSent
		merged = append(merged, e)
	}
	slices.SortStableFunc(merged, compareEntries)

	used := make([]bool, len(merged))
	var keep []entry
	for _, prev := range t.entries {
		i := t.matchHistory(merged, used, prev)
		if i < 0 {
			keep = append(keep, prev)
			continue
		}
		used[i] = true
		// The history copy takes over the previous identity so pending
		// persist completions and UI keys still resolve to it.
		if !merged[i].keyed {
			merged[i].ProvisionalID = prev.ProvisionalID
			merged[i].keyed = prev.keyed
		}
	}

	t.entries = merged
	for _, e := range keep {
		t.insert(e)
	}
}

func (t *timeline) matchHistory(history []entry, used []bool, prev entry) int {
	for i, h := range history {
		if used[i] {
			continue
		}
		if t.represents(h, prev) {
			return i
		}
	}
	return -1
}

// reconcile applies a persistence result to the local entry provisionalID.
// It reports whether the sequence changed.
func (t *timeline) reconcile(provisionalID string, persisted Message, err error) bool {
	i := t.indexOf(provisionalID)
	if i < 0 {
		return false
	}
	if err != nil {
		if t.entries[i].PersistedID != "" {
			return false
		}
		t.entries[i].Status = StatusFailed
		return true
	}

	// A history fetch may already have delivered this record under a
	// different identity; the local entry wins.
	if j := t.indexOfPersisted(persisted.PersistedID); persisted.PersistedID != "" && j >= 0 && j != i {
		t.entries = slices.Delete(t.entries, j, j+1)
		if j < i {
			i--
		}
	}
	t.entries[i].PersistedID = persisted.PersistedID
	t.entries[i].Status = StatusSent
	return true
}

// markPending flips a failed entry back to pending for a resend.
func (t *timeline) markPending(provisionalID string) (Message, error) {
	i := t.indexOf(provisionalID)
	if i < 0 {
		return Message{}, NewError(ErrorNotFound, "no message "+provisionalID)
	}
	if t.entries[i].Status != StatusFailed {
		return Message{}, NewError(ErrorInvalidMessage, "message "+provisionalID+" is "+t.entries[i].Status.String()+", not failed")
	}
	t.entries[i].Status = StatusPending
	return t.entries[i].Message, nil
}

func (t *timeline) messages() []Message {
	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Message
	}
	return out
}

func (t *timeline) reset() {
	t.entries = nil
}
