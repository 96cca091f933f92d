// Package store keeps two-party rooms and their message history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotMember = errors.New("sender is not a member of the room")
	ErrInvalid   = errors.New("invalid argument")
)

// Room is a conversation between exactly two users.
type Room struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	ClientID  string    `json:"clientId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is implemented by the memory and Redis backends.
//
// CreateRoom is idempotent for an unordered pair of users. AppendMessage is
// idempotent for a non-empty clientID: repeating it returns the first
// record. ListMessages returns messages in ascending creation order.
type Store interface {
	CreateRoom(ctx context.Context, a, b string) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	FindRoom(ctx context.Context, a, b string) (Room, error)
	ListRooms(ctx context.Context, user string) ([]Room, error)
	AppendMessage(ctx context.Context, roomID, sender, body, clientID string) (Message, error)
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
	Close() error
}

// HasMember reports whether user belongs to r.
func (r Room) HasMember(user string) bool {
	for _, m := range r.Members {
		if m == user {
			return true
		}
	}
	return false
}

// newID returns a time-ordered identifier.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// now is millisecond precision so stored and listed times compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// pairKey orders a and b so both directions share one key.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

func validatePair(a, b string) error {
	if a == "" || b == "" || a == b {
		return ErrInvalid
	}
	return nil
}

func validateMessage(roomID, sender, body string) error {
	if roomID == "" || sender == "" || body == "" {
		return ErrInvalid
	}
	return nil
}
