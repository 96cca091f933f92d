package pairchat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatRoom is a two-party conversation. It is immutable once created.
type ChatRoom struct {
	ID        string
	Members   []string
	CreatedAt time.Time
}

// Validate checks that the room has exactly two distinct members and that
// self is one of them.
func (r ChatRoom) Validate(self string) error {
	if r.ID == "" {
		return NewError(ErrorInvalidRoom, "room has no identifier")
	}
	if len(r.Members) != 2 {
		return NewError(ErrorInvalidRoom, "room must have exactly two members")
	}
	a, b := r.Members[0], r.Members[1]
	if a == "" || b == "" || a == b {
		return NewError(ErrorInvalidRoom, "room members must be distinct user ids")
	}
	if self != a && self != b {
		return NewError(ErrorInvalidRoom, "current user is not a member of room "+r.ID)
	}
	return nil
}

// Peer returns the member that is not self. It assumes Validate passed.
func (r ChatRoom) Peer(self string) string {
	for _, m := range r.Members {
		if m != self {
			return m
		}
	}
	return ""
}

// MessageStatus tracks where a displayed message came from and whether the
// store has confirmed it.
type MessageStatus int

const (
	// StatusPending is an optimistic local entry whose persistence is in flight.
	StatusPending MessageStatus = iota
	// StatusSent is confirmed by the store and carries a persisted id.
	StatusSent
	// StatusFailed is a local entry whose persistence failed. It stays visible until resent.
	StatusFailed
	// StatusReceived arrived over the live channel and is not confirmed by the store.
	StatusReceived
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Message is one entry of a room's displayed sequence.
type Message struct {
	ProvisionalID string
	PersistedID   string
	RoomID        string
	Sender        string
	Body          string
	CreatedAt     time.Time
	Status        MessageStatus
}

// Failed reports whether persistence of a local send failed.
func (m Message) Failed() bool { return m.Status == StatusFailed }

// Persisted reports whether the store assigned an identifier.
func (m Message) Persisted() bool { return m.PersistedID != "" }

// NewProvisionalID returns a fresh client-side message identifier.
func NewProvisionalID() string {
	return uuid.NewString()
}

// validBody rejects blank drafts.
func validBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return NewError(ErrorInvalidMessage, "message body is empty")
	}
	return nil
}

// messageFromLive builds an unpersisted entry from an inbound event.
func messageFromLive(roomID string, p GetMessagePayload, now time.Time) Message {
	id := p.ClientID
	if id == "" {
		id = NewProvisionalID()
	}
	ts := now
	if p.CreatedAt > 0 {
		ts = time.UnixMilli(p.CreatedAt)
	}
	return Message{
		ProvisionalID: id,
		RoomID:        roomID,
		Sender:        p.SenderID,
		Body:          p.Message,
		CreatedAt:     ts,
		Status:        StatusReceived,
	}
}
