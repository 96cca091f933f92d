package rest

import (
	"fmt"
	"time"
)

// Room types

// RoomRecord is a two-party chat room as stored by the server.
type RoomRecord struct {
	ID        string    `json:"_id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRoomRequest is the request body for creating a room.
// Creating a room that already exists for the pair returns the existing one.
type CreateRoomRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// Message history types

// MessageRecord is a persisted message.
type MessageRecord struct {
	ID         string    `json:"_id"`
	ChatRoomID string    `json:"chatRoomId"`
	Sender     string    `json:"sender"`
	Message    string    `json:"message"`
	ClientID   string    `json:"clientId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PostMessageRequest is the request body for persisting a message.
// ClientID makes the call idempotent: posting the same ClientID twice
// returns the first record.
type PostMessageRequest struct {
	ChatRoomID string `json:"chatRoomId"`
	Sender     string `json:"sender"`
	Message    string `json:"message"`
	ClientID   string `json:"clientId,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}
